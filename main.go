package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"creditflow/api"
	"creditflow/config"
	"creditflow/internal/dashboard"
	signalhub "creditflow/internal/signal"
	"creditflow/loader"
	"creditflow/logger"
	"creditflow/models"
	"creditflow/processor"
	"creditflow/reader"
	"creditflow/session"
	"creditflow/state"
	"creditflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Creditflow.Name,
		"version": cfg.Creditflow.Version,
		"backend": cfg.Backend.BaseURL,
	}).Info("starting creditflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	client, err := api.NewClient(cfg.Backend)
	if err != nil {
		log.WithError(err).Error("failed to create backend client")
		os.Exit(1)
	}

	sessions := session.NewStore(cfg.Session.TokenFile)
	guard := session.NewGuard(cfg.Session, sessions, client)
	sessions.OnClear(func(reason string) {
		log.WithComponent("main").WithFields(logger.Fields{"reason": reason}).Warn("session ended, re-authentication required")
	})

	if _, ok := sessions.Get(); !ok {
		if cfg.Backend.Username == "" {
			log.WithComponent("main").Warn("no stored credential and no backend username configured")
		} else if err := login(ctx, client, sessions, cfg.Backend.Username, cfg.Backend.Password); err != nil {
			log.WithError(err).Error("initial login failed")
			os.Exit(1)
		}
	}

	store := state.NewStore()

	refreshStateFile := ""
	if cfg.Session.TokenFile != "" {
		refreshStateFile = cfg.Session.TokenFile + ".refresh"
	}
	notifier := signalhub.NewNotifier(refreshStateFile, cfg.Dashboard.Refresh)

	events := make(chan models.PredictionEvent, cfg.Channels.EventBuffer)

	var archive chan models.PredictionEvent
	var archiveWriter *writer.ArchiveWriter
	if cfg.Archive.Enabled {
		archive = make(chan models.PredictionEvent, cfg.Channels.ArchiveBuffer)
		archiveWriter, err = writer.NewArchiveWriter(cfg.Archive, cfg.Creditflow.Version, archive)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("event archive disabled; skipping writer")
	}

	aggregator := processor.NewAggregator(cfg, events, archive, store)
	snapshots := loader.NewLoader(client, guard, sessions, store)
	stream := reader.NewStreamReader(cfg.Stream, cfg.Backend.WebsocketURL, sessions, events)

	stream.OnStateChange(func(s models.ConnectionState) {
		log.WithComponent("main").WithFields(logger.Fields{"state": string(s)}).Debug("stream state changed")
	})

	if err := guard.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start session guard")
		os.Exit(1)
	}
	if err := aggregator.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start aggregator")
		os.Exit(1)
	}
	if archiveWriter != nil {
		if err := archiveWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archive writer")
			os.Exit(1)
		}
	}
	if err := snapshots.Start(ctx, notifier.Subscribe()); err != nil {
		log.WithError(err).Error("failed to start snapshot loader")
		os.Exit(1)
	}
	if err := stream.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start stream reader")
		os.Exit(1)
	}

	go notifier.Watch(ctx)

	var wg sync.WaitGroup

	dash, err := dashboard.NewServer(cfg.Dashboard, log, store, stream, snapshots, client, guard, notifier)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard server")
		os.Exit(1)
	}
	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.WithComponent("main").WithFields(logger.Fields{"address": dash.Address()}).Info("dashboard server listening")
			if err := dash.Run(ctx, cfg.Creditflow.Name); err != nil {
				log.WithError(err).Error("dashboard server failed")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping stream reader")
	stream.Stop()

	log.Info("stopping snapshot loader")
	snapshots.Stop()

	log.Info("stopping aggregator")
	aggregator.Stop()

	if archiveWriter != nil {
		log.Info("stopping archive writer")
		archiveWriter.Stop()
	}

	log.Info("stopping session guard")
	guard.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("creditflow stopped")
}

func login(ctx context.Context, client *api.Client, sessions *session.Store, username, password string) error {
	token, err := client.Login(ctx, username, password)
	if err != nil {
		return err
	}
	cred, err := session.ParseCredential(token)
	if err != nil {
		return err
	}
	sessions.Set(cred)
	return nil
}
