package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/astromechza/discussion-experiments/pkg/archive"
	"github.com/astromechza/discussion-experiments/pkg/discussion"
	"github.com/astromechza/discussion-experiments/pkg/eventlog"
	"github.com/astromechza/discussion-experiments/pkg/push"
	"github.com/astromechza/discussion-experiments/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "localhost:8080", "the address to listen on")
	archiveVar := flag.String("archive", "", "a sqlite database to mirror events into, disabled when empty")
	staticVar := flag.String("static", "", "a directory of frontend files to serve on /")
	queueVar := flag.Int("queue", push.DefaultQueueSize, "the number of batches buffered per push connection")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &server{store: eventlog.New(), queueSize: *queueVar, static: *staticVar, shutdown: ctx}

	if *archiveVar != "" {
		slog.Info("Opening archive", "path", *archiveVar)
		a, err := archive.OpenFile(ctx, *archiveVar)
		if err != nil {
			return err
		}
		defer a.Close()
		s.store.Subscribe(a)
		defer s.store.Unsubscribe(a)
	}

	httpServer := &http.Server{Addr: *addrVar, Handler: s.router()}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", *addrVar)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()
	_ = httpServer.Close()

	wg.Wait()
	// websocket handlers outlive Close, wait for them to say goodbye
	s.conns.Wait()

	state := discussion.NewState().Fold(s.store.Events())
	slog.Info("final state", "events", s.store.Len(), "comments", state.Len(), "dropped", state.Dropped())
	if state.Len() > 0 {
		if svgPath, err := viz.RenderToTemp(state); err != nil {
			slog.Error("failed to render", "err", err)
		} else {
			slog.Info("rendered", "path", "file://"+svgPath)
		}
	}
	return nil
}
