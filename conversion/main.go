package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cadbridge-labs/cadbridge-go/internal/automation"
	"github.com/cadbridge-labs/cadbridge-go/internal/bridge"
	"github.com/cadbridge-labs/cadbridge-go/internal/docstore"
	"github.com/cadbridge-labs/cadbridge-go/internal/jobs"
	"github.com/cadbridge-labs/cadbridge-go/internal/pipeline"
	"github.com/cadbridge-labs/cadbridge-go/internal/platform/auth"
	"github.com/cadbridge-labs/cadbridge-go/internal/platform/env"
	"github.com/cadbridge-labs/cadbridge-go/internal/platform/eventlog"
	"github.com/cadbridge-labs/cadbridge-go/internal/platform/httpserver"
	"github.com/cadbridge-labs/cadbridge-go/internal/platform/objectstore"
	"github.com/cadbridge-labs/cadbridge-go/internal/platform/postgres"
	"github.com/cadbridge-labs/cadbridge-go/internal/provision"
	repopg "github.com/cadbridge-labs/cadbridge-go/internal/repo/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("CADBRIDGE_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("CADBRIDGE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	continueDelay, err := env.Duration("CADBRIDGE_CALLBACK_CONTINUE_DELAY", 2*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	taskTimeout, err := env.Duration("CADBRIDGE_CALLBACK_TASK_TIMEOUT", 10*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	store, err := objectstore.New(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, err := auth.NewClientCredentialsAuthenticator(authCfg)
	if err != nil {
		logger.Error("authenticator init failed", "error", err)
		os.Exit(2)
	}
	tokens := auth.NewTokenCache(authenticator, 30*time.Second)

	farmURL := env.String("CADBRIDGE_AUTOMATION_URL", "")
	farm, err := automation.NewHTTPClient(farmURL, tokens)
	if err != nil {
		logger.Error("automation client init failed", "error", err)
		os.Exit(2)
	}

	docsURL := env.String("CADBRIDGE_DOCSTORE_URL", "")
	docs, err := docstore.NewHTTPClient(docsURL)
	if err != nil {
		logger.Error("docstore client init failed", "error", err)
		os.Exit(2)
	}

	refs, err := bridge.New(bridge.Config{
		ObjectBaseURL: env.String("CADBRIDGE_OBJECT_BASE_URL", ""),
		ReadTTL:       storeCfg.ReadTTL,
		WriteTTL:      storeCfg.WriteTTL,
	}, store)
	if err != nil {
		logger.Error("storage bridge init failed", "error", err)
		os.Exit(2)
	}

	stages, err := provision.Load(env.String("CADBRIDGE_STAGES_CONFIG", "configs/stages.yaml"))
	if err != nil {
		logger.Error("invalid stage config", "error", err)
		os.Exit(2)
	}

	provisioner, err := provision.New(
		farm,
		env.String("CADBRIDGE_FARM_NICKNAME", ""),
		env.String("CADBRIDGE_FARM_ALIAS", "prod"),
		logger,
	)
	if err != nil {
		logger.Error("provisioner init failed", "error", err)
		os.Exit(2)
	}

	submitter, err := jobs.NewSubmitter(farm, logger)
	if err != nil {
		logger.Error("submitter init failed", "error", err)
		os.Exit(2)
	}

	chainer, err := pipeline.New(
		pipeline.Config{
			CallbackBaseURL: env.String("CADBRIDGE_CALLBACK_BASE_URL", ""),
			Stages:          stages,
		},
		provisioner,
		refs,
		submitter,
		docs,
		auth.AppTokenUserSource{Cache: tokens},
		repopg.NewGroupStore(db),
		eventlog.NewRecorder(db),
		logger,
	)
	if err != nil {
		logger.Error("pipeline init failed", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("conversion"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"conversion",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "objectstore",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return store.Check(checkCtx)
				},
			},
		),
	)

	api := newConversionAPI(logger, chainer, continueDelay, taskTimeout)
	api.register(mux)

	cfg := httpserver.Config{
		Service:         "conversion",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "conversion", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
