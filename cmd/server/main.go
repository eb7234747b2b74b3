package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dvloznov/report-extractor/internal/api"
	"github.com/dvloznov/report-extractor/internal/bot"
	"github.com/dvloznov/report-extractor/internal/config"
	"github.com/dvloznov/report-extractor/internal/extract"
	infraBQ "github.com/dvloznov/report-extractor/internal/infra/bigquery"
	"github.com/dvloznov/report-extractor/internal/infra/sqlite"
	"github.com/dvloznov/report-extractor/internal/ingest"
	"github.com/dvloznov/report-extractor/internal/jobs/inmemory"
	"github.com/dvloznov/report-extractor/internal/logger"
	"github.com/dvloznov/report-extractor/internal/mailbox"
	"github.com/dvloznov/report-extractor/internal/report"
	"github.com/dvloznov/report-extractor/internal/store"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger is configured from cfg, so fall back to the default.
		log := logger.New(logger.Config{})
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outputs, closeOutputs := openStore(ctx, cfg, log)
	defer closeOutputs()

	catalog, err := report.DefaultCatalog()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load report catalog")
	}

	// Run ledger
	runsDB, err := sqlite.Open(cfg.RunsDBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.RunsDBPath).Msg("Failed to open run ledger")
	}
	defer runsDB.Close()

	recorders := ingest.MultiRecorder{runsDB}
	if cfg.BigQueryEnabled() {
		ledger, err := infraBQ.NewRunLedger(ctx, cfg.BQProject, cfg.BQDataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery run ledger")
		}
		defer ledger.Close()
		if err := ledger.EnsureTable(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare BigQuery run table")
		}
		recorders = append(recorders, ledger)
		log.Info().Str("project", cfg.BQProject).Str("dataset", cfg.BQDataset).Msg("Recording runs in BigQuery")
	}

	// Extractors
	var vision extract.Extractor
	if cfg.GeminiAPIKey != "" {
		v, err := extract.NewVision(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create vision extractor")
		}
		vision = v
	} else {
		log.Warn().Msg("No GEMINI_API_KEY configured - image tables will be rejected")
	}

	svc := ingest.NewService(outputs, ingest.Extractors(vision), log, ingest.WithRunRecorder(recorders))

	// Job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.QueueSize, cfg.WorkerCount, jobStore)

	var tgBot *bot.Bot
	var tgAPI *tgbotapi.BotAPI
	if cfg.TelegramEnabled() {
		tgAPI, err = tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Telegram")
		}
		tgBot = bot.New(tgAPI, jobQueue, outputs, cfg.TempDir, log)
		log.Info().Str("bot", tgAPI.Self.UserName).Msg("Telegram bot authorized")
	} else {
		log.Warn().Msg("No TELEGRAM_BOT_TOKEN configured - chat intake disabled")
	}

	var notifierFor ingest.NotifierFor
	if tgBot != nil {
		notifierFor = tgBot.NotifierFor
	}

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	go func() {
		log.Info().Int("workers", cfg.WorkerCount).Msg("Starting job workers")
		if err := jobQueue.Start(workerCtx, ingest.JobHandler(svc, notifierFor)); err != nil {
			log.Error().Err(err).Msg("Job workers stopped with error")
		}
	}()

	if tgBot != nil {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		go tgBot.Run(ctx, tgAPI.GetUpdatesChan(u))
	}

	// Scheduled work
	scheduler := cron.New()
	janitor := &ingest.Janitor{
		Dir:    cfg.TempDir,
		MaxAge: cfg.TempMaxAge,
		Jobs:   jobStore,
		Log:    log.With().Str("component", "janitor").Logger(),
	}
	if _, err := janitor.Schedule(ctx, scheduler, cfg.JanitorSchedule); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule temp janitor")
	}
	if cfg.IMAPEnabled() {
		conn, err := mailbox.NewConnector(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid mailbox configuration")
		}
		poller := mailbox.NewPoller(conn, jobQueue, cfg.TempDir, log)
		if _, err := poller.Schedule(ctx, scheduler, cfg.IMAPPollSchedule); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule mailbox poll")
		}
		log.Info().Str("host", cfg.IMAPHost).Str("mailbox", cfg.IMAPMailbox).Msg("Mailbox intake enabled")
	}
	scheduler.Start()

	handler := api.NewRouter(api.Deps{
		Store:   outputs,
		Catalog: catalog,
		Jobs:    jobStore,
		Runs:    runsDB,
		Log:     log,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	if tgAPI != nil {
		tgAPI.StopReceivingUpdates()
	}
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop accepting jobs and wait for in-flight ones
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}

// openStore picks the bucket store when GCS_BUCKET is set and the local
// output directory otherwise.
func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.Store, func()) {
	if cfg.GCSBucket != "" {
		gcs, err := store.NewGCS(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			log.Fatal().Err(err).Str("bucket", cfg.GCSBucket).Msg("Failed to open bucket store")
		}
		log.Info().Str("bucket", cfg.GCSBucket).Str("prefix", cfg.GCSPrefix).Msg("Storing tables in GCS")
		return gcs, func() { _ = gcs.Close() }
	}

	dir, err := store.NewDir(cfg.OutputDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.OutputDir).Msg("Failed to open output directory")
	}
	log.Info().Str("dir", dir.Root()).Msg("Storing tables on disk")
	return dir, func() {}
}
