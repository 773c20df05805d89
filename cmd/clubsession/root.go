package main

import (
	"encoding/json"
	"io"

	"github.com/hbsportsdirector/rstse-sub000/config"
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. A non-nil environ replaces the process
// environment when loading configuration.
func newRootCmd(environ map[string]string) *cobra.Command {
	root := &cobra.Command{
		Use:   "clubsession",
		Short: "Club member session tool",
		Long: `clubsession signs club members in and out against the local identity
provider and reconciles their profile from the configured store.
Configuration is read from CLUB_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	loadConfig := func() (*config.Config, error) {
		if environ != nil {
			return config.LoadFrom(environ)
		}
		return config.Load()
	}

	root.AddCommand(
		newMigrateCmd(loadConfig),
		newRegisterCmd(loadConfig),
		newLoginCmd(loadConfig),
		newWhoamiCmd(loadConfig),
	)
	return root
}

type configLoader func() (*config.Config, error)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
