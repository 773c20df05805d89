package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	auth "github.com/hbsportsdirector/rstse-sub000"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(nil).ExecuteContext(ctx); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\nOperation cancelled by user")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", auth.UserMessage(err))
		os.Exit(1)
	}
}
