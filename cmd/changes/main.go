// Command changes prints the detected change log.
//
// Usage:
//
//	changes [--entity ID] [--since 24h|RFC3339] [--kind NEW_DEAL] [--limit N] [--json]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"dealwatch/internal/app"
	"dealwatch/internal/config"
	"dealwatch/internal/domain"
	"dealwatch/internal/jsonview"
	"dealwatch/internal/storage"
)

type query struct {
	entity string
	since  string
	kind   string
	limit  int
	asJSON bool
}

func main() {
	fs := pflag.NewFlagSet("changes", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	var q query
	fs.StringVar(&q.entity, "entity", "", "only changes for this entity")
	fs.StringVar(&q.since, "since", "", "only changes detected after this time or within this duration")
	fs.StringVar(&q.kind, "kind", "", "only changes of this kind")
	fs.IntVar(&q.limit, "limit", 50, "show the most recent N changes, 0 for all")
	fs.BoolVar(&q.asJSON, "json", false, "print JSON")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, logger, err := app.Bootstrap(fs)
	if err != nil {
		slog.Error("startup failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()
	stores, err := app.OpenStores(ctx, cfg.Store)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer stores.Close()

	if err := run(ctx, stores.Changes, os.Stdout, q, time.Now()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stores.Close()
		os.Exit(1)
	}
}

func (q query) filter(now time.Time) (storage.ChangeFilter, error) {
	f := storage.ChangeFilter{EntityID: q.entity, Limit: q.limit}
	if f.Limit < 0 {
		return f, errors.New("--limit must not be negative")
	}
	if q.kind != "" {
		f.Kind = domain.ChangeKind(strings.ToUpper(q.kind))
		if !f.Kind.IsValid() {
			return f, fmt.Errorf("unknown kind %q", q.kind)
		}
	}
	if q.since != "" {
		if t, err := time.Parse(time.RFC3339, q.since); err == nil {
			f.Since = t
		} else if d, err := time.ParseDuration(q.since); err == nil && d > 0 {
			f.Since = now.Add(-d)
		} else {
			return f, fmt.Errorf("invalid --since %q", q.since)
		}
	}
	return f, nil
}

func run(ctx context.Context, log storage.ChangeLog, out io.Writer, q query, now time.Time) error {
	f, err := q.filter(now)
	if err != nil {
		return err
	}
	changes, err := log.ListChanges(ctx, f)
	if err != nil {
		return err
	}

	if q.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonview.FromChanges(changes))
	}

	if len(changes) == 0 {
		fmt.Fprintln(out, "no changes")
		return nil
	}
	for _, c := range changes {
		fmt.Fprintf(out, "%s  v%-4d %-14s %s\n",
			c.DetectedAt.Local().Format(time.DateTime), c.SnapshotVersion, c.Kind, c.Summary())
	}
	return nil
}
