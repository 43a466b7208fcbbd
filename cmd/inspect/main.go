// Command inspect serves playback and raw-metadata endpoints for a
// single local database (spec §6 "inspect <db_path> [-p <port>]"),
// for operator debugging without a recording pipeline or replica sync
// attached.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/andrewtheguy/saveaudiostream/internal/config"
	"github.com/andrewtheguy/saveaudiostream/internal/model"
	"github.com/andrewtheguy/saveaudiostream/internal/store"
	"github.com/andrewtheguy/saveaudiostream/internal/syncapi"
)

func main() {
	port := flag.Int("p", 8082, "HTTP listen port")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	if flag.NArg() < 1 {
		slog.Error("usage: inspect <db_path> [-p <port>]")
		os.Exit(1)
	}
	dbPath := flag.Arg(0)

	// inspect opens a database without knowing its format/rate/bitrate
	// in advance, so it reads Metadata once with a bare probe connection
	// and then calls OpenSQLite with those same values as "expected" —
	// a no-op validation, since it echoes back what's already stored.
	probe, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("failed to open database", "path", dbPath, "error", err)
		os.Exit(2)
	}
	kv := config.NewKVStore(probe)
	probe.Close()

	expected := store.ExpectedMetadata{
		Name:          kv.Get("name", ""),
		SampleRateHz:  atoi(kv.Get("sample_rate", "0")),
		BitrateKbps:   atoi(kv.Get("bitrate", "0")),
		SplitInterval: atoi(kv.Get("split_interval", "0")),
		IsRecipient:   kv.Get("is_recipient", "false") == "true",
	}
	expected.AudioFormat = model.AudioFormat(kv.Get("audio_format", ""))

	st, err := store.OpenSQLite(dbPath, expected)
	if err != nil {
		slog.Error("failed to open store", "path", dbPath, "error", err)
		os.Exit(2)
	}
	defer st.Close()

	meta, err := st.Metadata(context.Background())
	if err != nil {
		slog.Error("failed to read metadata", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	sh := syncapi.ShowHandle{Store: st, Format: meta.AudioFormat, SampleRateHz: meta.SampleRateHz}
	syncapi.NewPlaybackServer(sh).Register(mux, "")

	// Raw key/value metadata dump, independent of model.Metadata's fixed
	// field set — useful when debugging a database written by a newer
	// or older schema version than this binary's.
	mux.HandleFunc("GET /api/metadata/raw", func(w http.ResponseWriter, r *http.Request) {
		dump, err := sql.Open("sqlite", dbPath)
		if err != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		defer dump.Close()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(config.NewKVStore(dump).All())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // spec §5 "playback segment requests time out at 60 s"
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("inspect serving", "db", dbPath, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("inspect HTTP server error", "error", err)
			os.Exit(2)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
