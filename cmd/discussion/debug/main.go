package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/astromechza/discussion-experiments/pkg/archive"
	"github.com/astromechza/discussion-experiments/pkg/discussion"
	"github.com/astromechza/discussion-experiments/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	runVar := flag.String("run", "", "the archived run to read, defaults to the latest")
	svgVar := flag.Bool("svg", false, "also render the comment graph to a temporary svg")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the archive to read")
	}
	if _, err := os.Stat(flag.Arg(0)); err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	db, err := sql.Open("sqlite3", flag.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer db.Close()

	events, err := archive.Load(context.Background(), db, *runVar)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	slog.Info("loaded events", "count", len(events))
	for _, ev := range events {
		slog.Info("event", "id", fmt.Sprintf("%4d", ev.EventID), "type", ev.EventType, "created", ev.EventDateCreated, "data", string(ev.Data))
	}

	state := discussion.NewState().Fold(events)
	slog.Info("folded", "comments", state.Len(), "dropped", state.Dropped())

	if err := viz.WriteDot(os.Stdout, state); err != nil {
		return fmt.Errorf("failed to write graph: %w", err)
	}
	if *svgVar {
		svgPath, err := viz.RenderToTemp(state)
		if err != nil {
			return fmt.Errorf("failed to render: %w", err)
		}
		slog.Info("rendered", "path", "file://"+svgPath)
	}
	return nil
}
