package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xlab/closer"
	"go.uber.org/zap"

	"eventcal/internal/config"
	"eventcal/internal/feed"
	"eventcal/internal/kv"
	appLog "eventcal/internal/log"
	"eventcal/internal/model"
	"eventcal/internal/repo"
	"eventcal/internal/status"
	"eventcal/internal/store"
	"eventcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	logLevel   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	if err := appLog.Configure(conf.Production); err != nil {
		appLog.Error("failed to configure logger", err)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.Level(flags.logLevel))
	closer.Bind(appLog.Sync)

	appLog.Info("eventcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"events_url", conf.Feed.EventsURL,
		"store", conf.Store,
		"refresh", conf.RefreshCron,
		"source_timezone", conf.SourceTimezone,
		"display_timezone", conf.DisplayTimezone,
		"once", flags.once,
	)

	ctx := context.Background()

	kvStore, err := openStore(ctx, conf)
	if err != nil {
		fatal("failed to open store", err, "store", conf.Store)
	}

	customs := repo.NewCustomEvents(kvStore)
	settings := repo.NewSettings(kvStore, model.Settings{
		TimeZone:       conf.DisplayTimezone,
		SourceTimeZone: conf.SourceTimezone,
		Theme:          "system",
		WeekStart:      "monday",
		Use24Hour:      true,
	})

	fetcher := feed.NewFetcher(feed.Options{
		CacheDir: conf.Feed.CacheDir,
		Timeout:  conf.Feed.Timeout,
		Retries:  conf.Feed.Retries,
	})

	events := store.New(fetcher, customs, store.Options{
		EventsURL: conf.Feed.EventsURL,
		SourceLocation: func(ctx context.Context) *time.Location {
			return loadLocation(settings.Load(ctx).SourceTimeZone)
		},
		DisplayLocation: func(ctx context.Context) *time.Location {
			return loadLocation(settings.Load(ctx).TimeZone)
		},
		CustomHorizon: time.Duration(conf.CustomHorizonDays) * 24 * time.Hour,
	})

	if err := events.Refetch(ctx); err != nil {
		if flags.once {
			fatal("initial refetch failed", err)
		}
		appLog.Error("initial refetch failed", err)
	}

	if flags.once {
		st := events.State()
		appLog.Info("single refetch completed",
			"remote_events", st.RemoteEvents,
			"skipped", len(st.Skipped),
			"from_cache", st.FromCache,
		)
		closer.Close()
		return
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(conf.RefreshCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := events.Refetch(ctx); err != nil && !errors.Is(err, model.ErrSuperseded) {
			appLog.Warn("scheduled refetch failed", "err", err.Error())
		}
	}); err != nil {
		fatal("invalid refresh schedule", err, "refresh", conf.RefreshCron)
	}
	scheduler.Start()
	closer.Bind(func() {
		<-scheduler.Stop().Done()
	})

	api := web.NewServer(web.Deps{
		Config:    conf,
		Store:     events,
		Saved:     repo.NewSavedEvents(kvStore),
		Notes:     repo.NewNotes(kvStore),
		Filters:   repo.NewFilterState(kvStore),
		Settings:  settings,
		TimeZones: fetcher,
		Ticker:    status.NewTicker(status.DefaultInterval, nil),
	})

	errLogger, err := zap.NewStdLogAt(appLog.Logger(), zap.ErrorLevel)
	if err != nil {
		fatal("error initiating server logger", err)
	}

	server := &http.Server{
		Addr:              conf.Listen,
		Handler:           api.Handler(),
		ErrorLog:          errLogger,
		ReadHeaderTimeout: 10 * time.Second,
	}
	closer.Bind(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLog.Error("server shutdown failed", err)
		}
		appLog.Info("eventcal exiting")
	})

	go func() {
		appLog.Info("started server", "listen", conf.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("server error", err)
			closer.Close()
		}
	}()

	closer.Hold()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./eventcal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one feed refetch and exit")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")

	flag.Parse()

	return cfg
}

// openStore builds the configured key-value backend.
func openStore(ctx context.Context, conf *config.Config) (kv.Store, error) {
	switch conf.Store {
	case config.StoreMemory:
		appLog.Warn("using in-memory store; local data is lost on exit")
		return kv.NewMemory(), nil
	case config.StoreRedis:
		pool := kv.NewRedisPool(conf.RedisURL)
		closer.Bind(func() {
			if err := pool.Close(); err != nil {
				appLog.Error("error closing redis pool", err)
			}
		})
		r := kv.NewRedis(pool)
		if err := r.Ping(ctx); err != nil {
			return nil, err
		}
		return r, nil
	case config.StoreFile:
		return kv.NewFile(conf.DataDir)
	default:
		return nil, fmt.Errorf("unknown store %q", conf.Store)
	}
}

// fatal logs and exits before the closer holds; nothing bound so far needs
// an orderly shutdown.
func fatal(msg string, err error, kv ...any) {
	appLog.Error(msg, err, kv...)
	appLog.Sync()
	os.Exit(1)
}

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", name)
		return time.UTC
	}
	return loc
}
