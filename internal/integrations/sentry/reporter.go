// Package sentry forwards processing failures to Sentry.
package sentry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

type Options struct {
	DSN         string
	Environment string
	Release     string
}

// Reporter captures errors on its own hub so concurrent requests never
// share scope data.
type Reporter struct {
	hub *sentry.Hub
}

// New builds a Reporter. An empty DSN is rejected; callers that run without
// Sentry should not install a reporter at all.
func New(o Options) (*Reporter, error) {
	if strings.TrimSpace(o.DSN) == "" {
		return nil, errors.New("sentry: dsn must not be empty")
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              o.DSN,
		Environment:      o.Environment,
		Release:          o.Release,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, err
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Report sends err with tags. Tags with empty values are skipped.
func (r *Reporter) Report(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		for k, v := range tags {
			if v != "" {
				scope.SetTag(k, v)
			}
		}
		if deadline, ok := ctx.Deadline(); ok {
			scope.SetExtra("deadline_remaining", time.Until(deadline).String())
		}
		hub.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
