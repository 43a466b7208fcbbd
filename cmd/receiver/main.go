// Command receiver runs as a replica: for each configured show it
// pulls chunks from a recording server's Sync Source API (C9) into a
// local Postgres-backed Store, and serves the spec §6 playback
// endpoints (prefixed "/show/{name}") plus receiver-only sync status
// and control endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/andrewtheguy/saveaudiostream/internal/config"
	"github.com/andrewtheguy/saveaudiostream/internal/model"
	"github.com/andrewtheguy/saveaudiostream/internal/store"
	"github.com/andrewtheguy/saveaudiostream/internal/syncapi"
	"github.com/andrewtheguy/saveaudiostream/internal/syncclient"
)

// replicaShow bundles one show's replicated Store with its puller and
// the last Pull outcome, for /api/sync/status.
type replicaShow struct {
	cfg    config.ReceiverShow
	store  store.Store
	puller *syncclient.Puller

	mu         sync.Mutex
	lastResult syncclient.Result
	lastErr    error
	lastSyncAt time.Time
}

func main() {
	cfgPath := flag.String("config", "", "path to receiver configuration")
	port := flag.Int("p", 8081, "HTTP listen port")
	syncOnly := flag.Bool("sync-only", false, "only run sync pulls, do not serve playback endpoints")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	if *cfgPath == "" {
		slog.Error("--config is required")
		os.Exit(1)
	}
	rc, err := config.LoadReceiverConfig(*cfgPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shows := make(map[string]*replicaShow, len(rc.Shows))
	for _, sc := range rc.Shows {
		rs, err := openReplicaShow(ctx, rc, sc)
		if err != nil {
			slog.Error("failed to open replica show", "show", sc.Name, "error", err)
			os.Exit(2)
		}
		shows[sc.Name] = rs
		defer rs.store.Close()
	}

	mux := http.NewServeMux()
	registerReceiverRoutes(mux, shows, *syncOnly)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("receiver starting", "addr", srv.Addr, "sync_only", *syncOnly)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("receiver HTTP server error", "error", err)
			os.Exit(2)
		}
	}()

	go runPeriodicSync(ctx, shows)

	<-ctx.Done()
	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// openReplicaShow learns the show's immutable format/rate from the
// source's Sync Source API (so the local replica is seeded with
// matching ExpectedMetadata), then opens the Postgres-backed Store.
func openReplicaShow(ctx context.Context, rc config.ReceiverConfig, sc config.ReceiverShow) (*replicaShow, error) {
	var meta syncapi.MetadataDTO
	url := fmt.Sprintf("%s/api/sync/shows/%s/metadata", sc.SourceBaseURL, sc.Name)
	if err := fetchJSON(ctx, url, &meta); err != nil {
		return nil, fmt.Errorf("fetch source metadata: %w", err)
	}

	st, err := store.OpenPostgres(ctx, rc.PostgresDSN, rc.DBPrefix, sc.Name, store.ExpectedMetadata{
		Name:          sc.Name,
		AudioFormat:   model.AudioFormat(meta.AudioFormat),
		BitrateKbps:   meta.BitrateKbps,
		SampleRateHz:  meta.SampleRateHz,
		SplitInterval: meta.SplitInterval,
		IsRecipient:   true,
	})
	if err != nil {
		return nil, err
	}

	return &replicaShow{
		cfg:   sc,
		store: st,
		puller: &syncclient.Puller{
			SourceBaseURL: sc.SourceBaseURL,
			Show:          sc.Name,
			Store:         st,
		},
	}, nil
}

func fetchJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// runPeriodicSync re-pulls every show every 30 seconds until ctx is
// cancelled, mirroring what POST /api/sync triggers on demand.
func runPeriodicSync(ctx context.Context, shows map[string]*replicaShow) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rs := range shows {
				rs.sync(ctx)
			}
		}
	}
}

func (rs *replicaShow) sync(ctx context.Context) {
	result, err := rs.puller.Pull(ctx)
	rs.mu.Lock()
	rs.lastResult = result
	rs.lastErr = err
	rs.lastSyncAt = time.Now()
	rs.mu.Unlock()
	if err != nil {
		slog.Warn("sync pull failed", "show", rs.cfg.Name, "error", err)
	} else if result.ChunksSynced > 0 {
		slog.Info("sync pull", "show", rs.cfg.Name, "chunks", result.ChunksSynced, "last_synced_id", result.LastSyncedID)
	}
}

func registerReceiverRoutes(mux *http.ServeMux, shows map[string]*replicaShow, syncOnly bool) {
	mux.HandleFunc("GET /api/mode", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"mode": "receiver", "sync_only": syncOnly})
	})

	mux.HandleFunc("GET /api/shows", func(w http.ResponseWriter, r *http.Request) {
		out := make([]syncapi.ShowDTO, 0, len(shows))
		for name, rs := range shows {
			m, err := rs.store.Metadata(r.Context())
			if err != nil {
				continue
			}
			out = append(out, syncapi.ShowDTO{Name: name, AudioFormat: string(m.AudioFormat)})
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("GET /api/sync/status", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("show")
		rs, ok := shows[name]
		if !ok {
			http.Error(w, "unknown show", http.StatusNotFound)
			return
		}
		rs.mu.Lock()
		defer rs.mu.Unlock()
		errMsg := ""
		if rs.lastErr != nil {
			errMsg = rs.lastErr.Error()
		}
		writeJSON(w, map[string]any{
			"show":           name,
			"chunks_synced":  rs.lastResult.ChunksSynced,
			"last_synced_id": rs.lastResult.LastSyncedID,
			"last_sync_at":   rs.lastSyncAt,
			"error":          errMsg,
		})
	})

	mux.HandleFunc("POST /api/sync", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("show")
		rs, ok := shows[name]
		if !ok {
			http.Error(w, "unknown show", http.StatusNotFound)
			return
		}
		rs.sync(r.Context())
		rs.mu.Lock()
		result, err := rs.lastResult, rs.lastErr
		rs.mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"chunks_synced": result.ChunksSynced, "last_synced_id": result.LastSyncedID})
	})

	if syncOnly {
		return
	}

	for name, rs := range shows {
		sh := syncapi.ShowHandle{Store: rs.store}
		meta, err := rs.store.Metadata(context.Background())
		if err != nil {
			slog.Warn("skipping playback routes, metadata unavailable", "show", name, "error", err)
			continue
		}
		sh.Format = meta.AudioFormat
		sh.SampleRateHz = meta.SampleRateHz
		syncapi.NewPlaybackServer(sh).Register(mux, "/show/"+name)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("receiver: failed to encode response", "error", err)
	}
}
