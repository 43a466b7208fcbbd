// Command record runs the Session Controller for every configured show
// (spec §6 "record -c <config> [-p <port>]"), and serves the Sync
// Source API (C9) so replica receivers can pull from it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/andrewtheguy/saveaudiostream/internal/config"
	"github.com/andrewtheguy/saveaudiostream/internal/session"
	"github.com/andrewtheguy/saveaudiostream/internal/sse"
	"github.com/andrewtheguy/saveaudiostream/internal/store"
	"github.com/andrewtheguy/saveaudiostream/internal/syncapi"
)

// retentionHorizon is the wall-clock horizon pruning keeps (Open
// Question (b), §9: hours rather than section count — see DESIGN.md).
const retentionHorizon = 7 * 24 * time.Hour

func main() {
	cfgPath := flag.String("c", "", "path to show configuration")
	port := flag.Int("p", 8080, "HTTP listen port for the Sync Source API")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	shows, err := loadShowConfigs(*cfgPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", *cfgPath, "error", err)
		os.Exit(1)
	}

	hub := sse.NewHub()
	go hub.Run()
	defer hub.Close()

	stores := make(map[string]store.Store, len(shows))
	handles := make(map[string]syncapi.ShowHandle, len(shows))
	controllers := make([]*session.Controller, 0, len(shows))
	statusCh := make(chan session.StatusEvent, 64)

	for _, sc := range shows {
		st, err := store.OpenSQLite(sc.DBPath, store.ExpectedMetadata{
			Name:          sc.Name,
			AudioFormat:   sc.AudioFormat,
			BitrateKbps:   sc.BitrateKbps,
			SampleRateHz:  sc.SampleRateHz,
			SplitInterval: sc.SplitInterval,
			IsRecipient:   false,
		})
		if err != nil {
			// ErrMetadataMismatch covers scenario 5 (spec §8): a database
			// already marked is_recipient=true disagrees with the
			// is_recipient=false this process always requests, so the
			// mismatch check rejects it before any Section is created.
			if errors.Is(err, store.ErrMetadataMismatch) || errors.Is(err, store.ErrRoleViolation) {
				slog.Error("database rejected for recording", "show", sc.Name, "error", err)
				os.Exit(1)
			}
			slog.Error("failed to open store", "show", sc.Name, "error", err)
			os.Exit(2)
		}
		defer st.Close()

		stores[sc.Name] = st
		handles[sc.Name] = syncapi.ShowHandle{Store: st, Format: sc.AudioFormat, SampleRateHz: sc.SampleRateHz}
		controllers = append(controllers, &session.Controller{
			Show:         sc.Name,
			StreamURL:    sc.StreamURL,
			Store:        st,
			Format:       sc.AudioFormat,
			BitrateKbps:  sc.BitrateKbps,
			SampleRateHz: sc.SampleRateHz,
			SplitSeconds: sc.SplitInterval,
			MaxDriftMs:   sc.MaxDriftMs,
			Schedule: session.Schedule{
				RecordStartMinute: sc.RecordStartMinute,
				RecordEndMinute:   sc.RecordEndMinute,
			},
			Status: statusCh,
		})
	}

	mux := http.NewServeMux()
	syncapi.NewSourceServer(handles).Register(mux)
	mux.HandleFunc("GET /api/sessions/events", hub.ServeHTTP)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE and segment export need unbounded write time
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("sync source API starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("sync source API: %w", err)
		}
		return nil
	})

	for _, c := range controllers {
		c := c
		g.Go(func() error {
			if err := c.Run(gctx); err != nil && gctx.Err() == nil {
				slog.Error("session controller exited", "show", c.Show, "error", err)
			}
			return nil
		})
	}

	g.Go(func() error { return relayStatus(gctx, hub, statusCh) })
	g.Go(func() error { return prunePeriodically(gctx, stores) })

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := g.Wait(); err != nil {
		slog.Error("record: fatal error", "error", err)
		os.Exit(2)
	}
}

// relayStatus forwards Session Controller transitions onto the
// operator SSE hub until ctx is cancelled.
func relayStatus(ctx context.Context, hub *sse.Hub, events <-chan session.StatusEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			errMsg := ""
			if ev.Err != nil {
				errMsg = ev.Err.Error()
			}
			hub.BroadcastJSON("session", map[string]any{
				"show":      ev.Show,
				"state":     ev.State.String(),
				"error":     errMsg,
				"timestamp": ev.Timestamp,
			})
		}
	}
}

// prunePeriodically runs Store.Prune against the retention horizon for
// every show's database, in a dedicated task per spec §5's "Background
// pruning runs in a dedicated task".
func prunePeriodically(ctx context.Context, stores map[string]store.Store) error {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-retentionHorizon).UnixMilli()
			for name, st := range stores {
				n, err := st.Prune(ctx, cutoff)
				if err != nil {
					slog.Warn("prune failed", "show", name, "error", err)
					continue
				}
				if n > 0 {
					slog.Info("pruned sections", "show", name, "count", n)
				}
			}
		}
	}
}

func loadShowConfigs(path string) ([]config.ShowConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("record: -c <config> is required")
	}
	return config.LoadShowConfigs(path)
}
