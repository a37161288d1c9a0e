// Command watch manages the set of watched companies.
//
// Usage:
//
//	watch add <entity-id> [--name NAME]
//	watch remove <entity-id>
//	watch list
//	watch status [entity-id]
//	watch import <file.yaml>
//	watch export [file.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"dealwatch/internal/app"
	"dealwatch/internal/config"
	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
	"dealwatch/internal/watchlist"
)

func main() {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	name := fs.String("name", "", "display name for add")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: watch <add|remove|list|status|import|export> [args] [flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if fs.NArg() == 0 {
		fs.Usage()
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

	if err := run(ctx, stores, os.Stdout, fs.Args(), *name); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stores.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, stores *storage.Stores, out io.Writer, args []string, name string) error {
	cmd, rest := args[0], args[1:]
	reg := stores.Registry

	switch cmd {
	case "add":
		if len(rest) != 1 {
			return errors.New("add takes exactly one entity id")
		}
		if err := reg.Add(ctx, rest[0], name, time.Now().UTC()); err != nil {
			return err
		}
		fmt.Fprintf(out, "watching %s\n", rest[0])

	case "remove":
		if len(rest) != 1 {
			return errors.New("remove takes exactly one entity id")
		}
		if err := reg.Remove(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "stopped watching %s\n", rest[0])

	case "list":
		watched, err := reg.List(ctx)
		if err != nil {
			return err
		}
		for _, w := range watched {
			fmt.Fprintln(out, w.EntityID)
		}

	case "status":
		var watched []*domain.WatchedEntity
		if len(rest) == 1 {
			w, err := reg.Get(ctx, rest[0])
			if err != nil {
				return err
			}
			watched = append(watched, w)
		} else {
			var err error
			if watched, err = reg.List(ctx); err != nil {
				return err
			}
		}
		return printStatus(out, watched)

	case "import":
		if len(rest) != 1 {
			return errors.New("import takes one file")
		}
		f, err := os.Open(rest[0])
		if err != nil {
			return err
		}
		defer f.Close()
		list, err := watchlist.Load(f)
		if err != nil {
			return err
		}
		stats, err := watchlist.Import(ctx, reg, list, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "added %d, already watched %d\n", stats.Added, stats.Existing)

	case "export":
		w := out
		if len(rest) == 1 {
			f, err := os.Create(rest[0])
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return watchlist.Export(ctx, reg, w)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func printStatus(out io.Writer, watched []*domain.WatchedEntity) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tNAME\tSTATE\tLAST POLLED\tFAILURES\tLAST FAILURE")
	for _, w := range watched {
		polled := "never"
		if w.LastPolledAt != nil {
			polled = w.LastPolledAt.Local().Format(time.DateTime)
		}
		state := string(w.PollState)
		if w.IsPermanentlyFailed() {
			state += " (permanent)"
		}
		failure := ""
		if w.LastFailure != nil {
			failure = w.LastFailure.Reason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			w.EntityID, w.Name, state, polled, w.ConsecutiveFailures, failure)
	}
	return tw.Flush()
}
