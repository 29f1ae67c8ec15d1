package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/programme-lv/autotest/athttp"
	"github.com/programme-lv/autotest/autotest"
	"github.com/programme-lv/autotest/conf"
	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/credstore"
	"github.com/programme-lv/autotest/groupfiles"
	"github.com/programme-lv/autotest/jobs"
	"github.com/programme-lv/autotest/logger"
	"github.com/programme-lv/autotest/migrate"
	"github.com/programme-lv/autotest/poller"
	"github.com/programme-lv/autotest/s3bucket"
	"github.com/programme-lv/autotest/schema"
	"github.com/programme-lv/autotest/specdoc"
	"github.com/programme-lv/autotest/testgroup"
	"github.com/programme-lv/autotest/testrun"
	"github.com/programme-lv/autotest/translations"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	runMigrations := flag.Bool("migrate", false, "apply database migrations before starting")
	migrationsDir := flag.String("migrations", "migrate", "directory with SQL migrations")
	flag.Parse()

	cfg, err := conf.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	if err := run(ctx, cfg, log, *runMigrations, *migrationsDir); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg conf.Config, log *slog.Logger, runMigrations bool, migrationsDir string) error {
	pg, err := cfg.Postgres.ResolvePassword(ctx)
	if err != nil {
		return err
	}
	if runMigrations {
		if err := migrate.Up(migrationsDir, pg.MigrateURL()); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Info("database migrated")
	}

	pool, err := pgxpool.New(ctx, pg.ConnStr())
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	tr, err := translations.New(cfg.Locale)
	if err != nil {
		return err
	}

	var awsCfg aws.Config
	if cfg.SpecsBucket != "" || cfg.JobQueueURL != "" || cfg.JobTable != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.AwsRegion))
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
	}

	courses := course.NewPgCourseRepo(pool)
	creds := credstore.NewStore(credstore.NewPgCredRepo(pool), cfg.ServiceAccountName(), cfg.CredentialRetries)
	ledger := testrun.NewPgLedger(pool)
	groupFiles := groupfiles.NewDir(cfg.GroupFilesDir)

	var specs interface {
		specdoc.Store
		specdoc.TestFiles
	}
	if cfg.SpecsBucket != "" {
		specs = specdoc.NewS3Store(s3bucket.NewS3Bucket(awsCfg, cfg.SpecsBucket))
	} else {
		specs = specdoc.NewFileStore(cfg.SpecsDir)
	}

	var queue jobs.Queue = jobs.NewChanQueue(256)
	if cfg.JobQueueURL != "" {
		queue = jobs.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.JobQueueURL, log)
	}
	var statuses jobs.StatusStore = jobs.NewInMemStore()
	if cfg.JobTable != "" {
		statuses = jobs.NewDynamoStatusStore(dynamodb.NewFromConfig(awsCfg), cfg.JobTable)
	}

	client := autotest.NewClient(autotest.Config{
		BaseURL:            cfg.BaseURL(),
		InstallationSecret: cfg.InstallationSecret,
	}, autotest.Deps{
		Courses:   courses,
		Creds:     creds,
		Ledger:    ledger,
		Specs:     specs,
		Files:     specs,
		Revisions: groupFiles,
		Tr:        tr,
	})

	reconciler := testgroup.NewReconciler(testgroup.NewPgTestGroupRepo(pool), courses, specs, tr)
	runner := jobs.NewRunner(queue, statuses, cfg.JobWorkers, log)
	autotest.RegisterJobs(runner, client, reconciler)

	pollCfg := poller.DefaultConfig()
	pollCfg.Interval = cfg.PollInterval()
	pollCfg.Concurrency = cfg.JobWorkers
	resultPoller := poller.New(pollCfg, client, ledger, courses, log)

	srv, err := athttp.NewHttpServer(athttp.Options{
		JwtKey:         []byte(cfg.JwtKey),
		AllowedOrigins: cfg.AllowedOrigins,
		LogLevel:       logger.ParseLevel(cfg.LogLevel),
		Env:            cfg.InstanceName,
	}, athttp.Deps{
		Courses:    courses,
		Creds:      creds,
		Autotester: client,
		Composer:   schema.NewComposer(courses, specs, tr),
		Ledger:     ledger,
		Jobs:       runner,
		TestFiles:  specs,
		GroupFiles: groupFiles,
		Tr:         tr,
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error { return resultPoller.Run(ctx) })
	g.Go(func() error {
		log.Info("starting server", "address", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
