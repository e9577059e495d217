// Package main implements a service that monitors court case status
// pages and sends notifications to subscribers when a case changes.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"courtwatch/config"
	"courtwatch/notify"
	"courtwatch/poll"
	"courtwatch/scraper"
	"courtwatch/server"
	"courtwatch/storage"
)

func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Default to local development mode if no bucket specified.
	if cfg.Bucket == "" && cfg.LocalStorage == "" {
		cfg.LocalStorage = "./data"
		logger.Info("No storage bucket set, defaulting to local development mode", "storage_path", cfg.LocalStorage)
	}

	if cfg.CourtBaseURL == "" {
		if cfg.LocalStorage == "" {
			logger.Error("court_base_url (or BASE_URL) required")
			os.Exit(1)
		}
		cfg.CourtBaseURL = "http://localhost:9000"
		logger.Info("No court base URL set, using local default", "base_url", cfg.CourtBaseURL)
	}

	var gcsClient *gcs.Client
	if cfg.LocalStorage != "" {
		logger.Info("Running in local development mode", "storage_path", cfg.LocalStorage)
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
	} else {
		gcsClient, err = gcs.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
	}

	store := storage.New(gcsClient, cfg.Bucket, cfg.LocalStorage, []byte(cfg.TokenSalt), logger)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	fetcher := scraper.New(httpClient, cfg.CourtBaseURL, logger)

	provider := buildProvider(ctx, cfg, logger)

	dispatcher := notify.New(provider, store, logger,
		notify.WithMessageDelay(cfg.MessageDelay.Duration))

	monitor := poll.New(fetcher, store, dispatcher, provider, logger,
		poll.WithBatchSize(cfg.BatchSize),
		poll.WithInterBatchDelay(cfg.InterBatchDelay.Duration),
		poll.WithCheckInterval(cfg.CheckInterval.Duration),
		poll.WithAdminContact(cfg.AdminContact))

	srv := server.New(&server.Config{
		Fetcher:    fetcher,
		Store:      store,
		Monitor:    monitor,
		Logger:     logger,
		IsNotFound: storage.IsNotFound,
		IsCaseAbsent: func(err error) bool {
			return errors.Is(err, scraper.ErrCaseNotFound)
		},
		PollInterval: cfg.PollInterval.Duration,
	})

	if err := srv.ListenAndServe(cfg.Port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// buildProvider picks the notification transport. Missing credentials
// degrade to the mock transport so local development works out of the
// box.
func buildProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) notify.Provider {
	switch cfg.Provider {
	case "brevo":
		apiKey := os.Getenv("BREVO_API_KEY")
		if apiKey == "" {
			logger.Warn("BREVO_API_KEY not set, using mock transport")
			return notify.NewMockProvider(logger)
		}
		return notify.NewBrevoProvider(apiKey, cfg.FromAddress, cfg.FromName, logger)
	case "gmail":
		service, err := initGmailService(ctx)
		if err != nil {
			logger.Warn("Failed to initialize Gmail service, using mock transport", "error", err)
			return notify.NewMockProvider(logger)
		}
		return notify.NewGmailProvider(service, logger)
	default:
		logger.Info("Mock transport enabled")
		return notify.NewMockProvider(logger)
	}
}

func initGmailService(ctx context.Context) (*gmail.Service, error) {
	// Explicit credentials first, for local development.
	credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON")
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// On Cloud Run, Application Default Credentials carry the service
	// account. The account needs the gmail.send scope.
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}

// isCloudRun checks for a GCP environment by querying the metadata
// server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}
