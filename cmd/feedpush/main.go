package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"feedpush/internal/adapters/telegram"
	"feedpush/internal/config"
	"feedpush/internal/feed"
	"feedpush/internal/push"
	"feedpush/internal/server"
	"feedpush/internal/storage"
	"feedpush/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	manager := config.NewManager(cfgPath)
	cfg, err := manager.Load(ctx)
	if err != nil {
		return err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	manager.SetLogger(log.With(logx.String("component", "config")))

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	sender, err := telegram.New(telegramConfig(cfg), log.With(logx.String("component", "telegram")))
	if err != nil {
		return err
	}

	fetcher := feed.NewFetcher(0, log.With(logx.String("component", "fetcher")))
	svc := push.New(store, fetcher, sender, log.With(logx.String("component", "push")))
	if err := svc.Apply(cfg.Push); err != nil {
		return err
	}
	if cfg.Push.Enabled {
		if err := svc.Start(ctx); err != nil {
			return err
		}
		defer svc.Stop()
	} else {
		log.Warn("push engine disabled in config; polling will not start")
	}

	if cfg.Server.Enabled {
		addr := cfg.Server.Addr
		if addr == "" {
			addr = "127.0.0.1:8175"
		}
		srv := server.New(svc, log.With(logx.String("component", "server")))
		go func() {
			if err := srv.Start(addr); err != nil {
				log.Error("status server failed", logx.Err(err))
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = srv.Stop(sctx)
		}()
	}

	// Hot-reload: logging and push settings apply live; telegram token,
	// storage path, server address, and push.enabled need a restart.
	updates := manager.Subscribe(1)
	defer manager.Unsubscribe(updates)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				logSvc.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File: logx.FileConfig{
						Enabled: next.Logging.File.Enabled,
						Path:    next.Logging.File.Path,
					},
				})
				if err := svc.Apply(next.Push); err != nil {
					log.Error("reloaded push config rejected", logx.Err(err))
				}
			}
		}
	}()
	go func() {
		if err := manager.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn("config watcher stopped", logx.Err(err))
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		log.Debug("systemd readiness notified")
	}

	log.Info("feedpush running", logx.String("config", cfgPath))
	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	return nil
}

func openStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	busy := 5 * time.Second
	if cfg.Storage.BusyTimeout != "" {
		d, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		busy = d
	}
	return storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("component", "storage")))
}

func telegramConfig(cfg *config.Config) telegram.Config {
	tc := telegram.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.RatePerSec,
	}
	if cfg.Telegram.SendTimeout != "" {
		if d, err := time.ParseDuration(cfg.Telegram.SendTimeout); err == nil {
			tc.SendTimeout = d
		}
	}
	return tc
}
