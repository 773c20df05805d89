package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"golang.org/x/sync/singleflight"
)

// Outcome classifies a single profile read.
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeNotFound
	OutcomeTransientError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeTransientError:
		return "transient_error"
	default:
		return "unknown"
	}
}

// FetchResult is the classified result of one attempt. Record is set only
// for OutcomeFound, Err only for OutcomeTransientError.
type FetchResult struct {
	Outcome Outcome
	Record  *ProfileRecord
	Err     error
}

// Found reports whether a record was read.
func (r FetchResult) Found() bool {
	return r.Outcome == OutcomeFound && r.Record != nil
}

// ProfileFetcher performs single read attempts against a ProfileStore.
// Expected conditions are returned as outcomes, never as errors.
type ProfileFetcher struct {
	store          ProfileStore
	group          singleflight.Group
	logger         Logger
	loggerProvider LoggerProvider
}

// ProfileFetcherOption customizes a ProfileFetcher.
type ProfileFetcherOption func(*ProfileFetcher)

// WithProfileFetcherLogger overrides the fetcher logger.
func WithProfileFetcherLogger(logger Logger) ProfileFetcherOption {
	return func(f *ProfileFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithProfileFetcherLoggerProvider overrides the logger provider.
func WithProfileFetcherLoggerProvider(provider LoggerProvider) ProfileFetcherOption {
	return func(f *ProfileFetcher) {
		if provider != nil {
			f.loggerProvider = provider
		}
	}
}

// NewProfileFetcher wraps store.
func NewProfileFetcher(store ProfileStore, opts ...ProfileFetcherOption) *ProfileFetcher {
	f := &ProfileFetcher{store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.loggerProvider, f.logger = ResolveLogger("auth.profile_fetcher", f.loggerProvider, f.logger)
	return f
}

// Fetch performs one read for subjectID. Concurrent calls for the same
// subject share a single store read; each caller gets its own copy.
func (f *ProfileFetcher) Fetch(ctx context.Context, subjectID string) FetchResult {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return FetchResult{Outcome: OutcomeNotFound}
	}
	if f.store == nil {
		return FetchResult{
			Outcome: OutcomeTransientError,
			Err:     wrapError(ErrTransientStore, errors.New("profile store not configured"), map[string]any{"subject_id": subjectID}),
		}
	}

	// The shared read outlives any single caller; each caller still
	// stops waiting when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := f.group.DoChan(subjectID, func() (any, error) {
		return f.store.FindProfile(shared, subjectID)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return FetchResult{
			Outcome: OutcomeTransientError,
			Err:     wrapError(ErrTransientStore, ctx.Err(), map[string]any{"subject_id": subjectID}),
		}
	case res = <-ch:
	}

	record, _ := res.Val.(*ProfileRecord)
	result := classifyFetch(subjectID, record, res.Err)

	switch result.Outcome {
	case OutcomeFound:
		f.logger.Debug("profile found", "subject_id", subjectID, "shared", res.Shared)
	case OutcomeNotFound:
		f.logger.Debug("profile not found", "subject_id", subjectID)
	case OutcomeTransientError:
		f.logger.Warn("profile read failed", "subject_id", subjectID, "error", res.Err)
	}
	return result
}

func classifyFetch(subjectID string, record *ProfileRecord, err error) FetchResult {
	switch {
	case err == nil && record != nil:
		return FetchResult{Outcome: OutcomeFound, Record: record.Clone()}
	case err == nil:
		return FetchResult{Outcome: OutcomeNotFound}
	case IsProfileNotFound(err), repository.IsRecordNotFound(err), errors.Is(err, sql.ErrNoRows):
		return FetchResult{Outcome: OutcomeNotFound}
	default:
		return FetchResult{
			Outcome: OutcomeTransientError,
			Err:     wrapError(ErrTransientStore, err, map[string]any{"subject_id": subjectID}),
		}
	}
}
