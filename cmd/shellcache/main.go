package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/shellcache/shellcache"
	"github.com/shellcache/shellcache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	portFlag           int
	originFlag         string
	manifestFlag       string
	providerFlag       string
	dbPathFlag         string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&originFlag, "origin", "", "Origin URL serving the site content")
	flag.StringVar(&manifestFlag, "manifest", "site.yaml", "Path to the site manifest")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&providerFlag, "provider", "sqlite", "Cache provider to use (sqlite, leveldb, memory)")
	flag.StringVar(&dbPathFlag, "db", "cache.db", "Cache DB file or directory")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()

	manifest, err := shellcache.LoadManifest(manifestFlag)
	if err != nil {
		log.Fatal().Err(err).Str("path", manifestFlag).Msg("Could not load site manifest")
	}

	var provider cache.Provider
	switch providerFlag {
	case "sqlite":
		provider = cache.NewSQLiteCache(dbPathFlag, manifest.QuotaBytes())
	case "leveldb":
		ldb, err := cache.NewLevelDBCache(dbPathFlag, manifest.QuotaBytes())
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open LevelDB cache")
		}
		defer ldb.Close()
		provider = ldb
	case "memory":
		provider = cache.NewSQLiteCache("file::memory:?cache=shared", manifest.QuotaBytes())
	default:
		log.Fatal().Msgf("Unsupported cache provider: %s", providerFlag)
	}

	if originFlag == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(originFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	worker := shellcache.New(shellcache.Config{
		Cache:           provider,
		OriginURL:       *originURL,
		Version:         manifest.Version,
		StaticAssets:    manifest.Assets,
		Pages:           manifest.Pages,
		ShellPath:       manifest.Shell,
		APIMarker:       manifest.APIMarker,
		MaxAge:          manifest.MaxAgeDuration(),
		RefreshInterval: manifest.RefreshDuration(),
		SweepInterval:   manifest.SweepDuration(),
		SyncTag:         manifest.SyncTag,
		Logger:          &log.Logger,
	})

	// a failed install is fatal for this version; namespaces from the
	// previously active version are left untouched
	if err := worker.Install(); err != nil {
		log.Fatal().Err(err).Msg("Install failed, keeping previous version")
	}
	if err := worker.Activate(); err != nil {
		log.Fatal().Err(err).Msg("Activation failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	worker.Start(ctx)

	r := chi.NewRouter()
	r.Post("/.shellcache/message", messageHandler(worker))
	r.Post("/.shellcache/push", pushHandler(worker))
	r.Post("/.shellcache/refresh", func(w http.ResponseWriter, _ *http.Request) {
		go worker.RefreshPages()
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, "Refreshing content...")
	})
	r.Post("/.shellcache/sync", func(w http.ResponseWriter, r *http.Request) {
		tag := r.URL.Query().Get("tag")
		go worker.HandleSync(ctx, tag)
		w.WriteHeader(http.StatusAccepted)
	})
	r.Handle("/*", worker)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", portFlag),
		Handler: r,
	}
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		server.Shutdown(context.Background())
	}()

	log.Info().Msgf("Serving port %v from %s (version %s)", portFlag, originURL.String(), manifest.Version)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	// wait for pending background work before exiting
	worker.Wait()
}

func messageHandler(worker *shellcache.Worker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg shellcache.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "Malformed message", http.StatusBadRequest)
			return
		}
		reply := worker.HandleMessage(msg)
		if reply == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	}
}

func pushHandler(worker *shellcache.Worker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Could not read payload", http.StatusBadRequest)
			return
		}
		n := worker.HandlePush(payload)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(n)
	}
}
