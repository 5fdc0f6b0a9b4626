package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"warden/pkg/bus"
	"warden/pkg/db"
	"warden/pkg/render"
	gos3 "warden/pkg/s3"
	"warden/pkg/signer"
	"warden/pkg/telemetry"
	"warden/pkg/tokens"
	"warden/services/governor"
	"warden/services/ingest"
	"warden/services/watcher"
)

const serviceName = "wardend"

type config struct {
	Addr           string        `env:"WARDEN_ADDR, default=:8080"`
	DBDSN          string        `env:"WARDEN_DB_DSN, required"`
	NATSURL        string        `env:"WARDEN_NATS_URL"`
	AgentURL       string        `env:"WARDEN_AGENT_URL"`
	TokenSecret    string        `env:"WARDEN_TOKEN_SECRET, required"`
	ApprovalTTL    time.Duration `env:"WARDEN_APPROVAL_TTL, default=10m"`
	BackupBucket   string        `env:"WARDEN_BACKUP_BUCKET"`
	EmbeddedDryRun bool          `env:"WARDEN_EMBEDDED_DRY_RUN, default=false"`
	JobDeadline    time.Duration `env:"WARDEN_JOB_DEADLINE, default=10m"`
	SweepEvery     time.Duration `env:"WARDEN_SWEEP_EVERY, default=30s"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		shutdown, _, _, err := telemetry.Init(ctx, serviceName)
		if err != nil {
			log.Fatal().Err(err).Msg("init telemetry")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("shutdown telemetry")
			}
		}()
	}

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	orm, err := gorm.Open(gormpostgres.Open(cfg.DBDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open orm")
	}

	var eventBus *bus.Bus
	if cfg.NATSURL != "" {
		eventBus, err = bus.New(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("connect nats")
		}
		defer eventBus.Close()
	} else {
		log.Warn().Msg("WARDEN_NATS_URL not set, lifecycle events disabled")
	}

	var s3Client *gos3.Client
	if os.Getenv("S3_ENDPOINT") != "" {
		s3Client, err = gos3.NewClientFromEnv()
		if err != nil {
			log.Fatal().Err(err).Msg("init object storage")
		}
	} else {
		log.Warn().Msg("S3_ENDPOINT not set, backup archives disabled")
	}

	var descSigner *signer.Signer
	if os.Getenv("WARDEN_SIGNING_KEY") != "" || os.Getenv("WARDEN_VERIFY_KEY") != "" {
		descSigner, err = signer.NewSignerFromEnv()
		if err != nil {
			log.Fatal().Err(err).Msg("init descriptor signer")
		}
	} else {
		log.Warn().Msg("WARDEN_SIGNING_KEY not set, job descriptors are unsigned")
	}

	tokenMgr, err := tokens.NewManager(cfg.TokenSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("init token manager")
	}

	renderer, err := render.New()
	if err != nil {
		log.Fatal().Err(err).Msg("init renderer")
	}

	catalog, err := governor.LoadCatalog()
	if err != nil {
		log.Fatal().Err(err).Msg("load action catalog")
	}

	api, err := governor.New(
		&governor.Store{DB: pool, ORM: orm, S3: s3Client, Bus: eventBus},
		renderer, catalog, tokenMgr, descSigner,
		governor.Config{
			AgentURL:       cfg.AgentURL,
			ApprovalTTL:    cfg.ApprovalTTL,
			BackupBucket:   cfg.BackupBucket,
			EmbeddedDryRun: cfg.EmbeddedDryRun,
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("init governor")
	}

	jobWatcher, err := watcher.New(orm, eventBus, cfg.JobDeadline, cfg.SweepEvery)
	if err != nil {
		log.Fatal().Err(err).Msg("init watcher")
	}
	if err := jobWatcher.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start watcher")
	}
	defer jobWatcher.Close()

	if eventBus != nil {
		ingestor, err := ingest.New(pool, eventBus)
		if err != nil {
			log.Fatal().Err(err).Msg("init ingestor")
		}
		if err := ingestor.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("start ingestor")
		}
		defer ingestor.Close()
	}

	routes, err := api.Routes()
	if err != nil {
		log.Fatal().Err(err).Msg("build routes")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting wardend")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}
