package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni/v2"
	"go.etcd.io/bbolt"

	"fknsrs.biz/p/ytcampaigns/handlers"
	"fknsrs.biz/p/ytcampaigns/internal/config"
	"fknsrs.biz/p/ytcampaigns/internal/configreader"
	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxconfig"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/ctxhttpclient"
	"fknsrs.biz/p/ytcampaigns/internal/ctxjobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
	"fknsrs.biz/p/ytcampaigns/internal/ctxvideostats"
	"fknsrs.biz/p/ytcampaigns/internal/httpcache"
	"fknsrs.biz/p/ytcampaigns/internal/jobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/logrusstackhook"
	"fknsrs.biz/p/ytcampaigns/internal/schedule"
	"fknsrs.biz/p/ytcampaigns/internal/schema"
	"fknsrs.biz/p/ytcampaigns/internal/seed"
	"fknsrs.biz/p/ytcampaigns/internal/sqlitelogger"
	"fknsrs.biz/p/ytcampaigns/internal/timeutil"
	"fknsrs.biz/p/ytcampaigns/internal/videostats"
	"fknsrs.biz/p/ytcampaigns/internal/ytapi"
	"fknsrs.biz/p/ytcampaigns/internal/ytdirect"
	"fknsrs.biz/p/ytcampaigns/jobs"
)

func init() {
	sorm.SetParameterPrefix("?")
}

var cfg = config.Config{
	EnvFile:              ".env",
	LogLevel:             logrus.InfoLevel,
	LogDebugLevels:       config.LevelList{logrus.DebugLevel, logrus.TraceLevel},
	LogQueries:           config.LogQueries{Enabled: true, SlowerThan: time.Millisecond * 100},
	LogSORM:              false,
	ApplicationAddr:      ":8080",
	ApplicationDatabase:  "database.db",
	ApplicationCachePath: "cache.db",
	BackgroundWorkers:    1,
	HTTPCacheMaxAge:      timeutil.DayTimeDuration(time.Minute * 10),
	HTTPTimeout:          timeutil.DayTimeDuration(time.Second * 30),
	YouTubeAPIBaseURL:    ytapi.DefaultBaseURL,
	YouTubeWatchBaseURL:  ytdirect.DefaultBaseURL,
	CampaignCheckDelay:   timeutil.DayTimeDuration(jobs.DefaultCampaignCheckDelay),
}

func init() {
	for _, configPath := range []string{"config.toml", "config.yaml", "config.yml"} {
		if st, err := os.Stat(configPath); err == nil && st != nil && !st.IsDir() {
			cfg.Config = configPath
		}
	}
}

type simpleQueryLogger struct {
	logger *logrus.Logger
}

func (s *simpleQueryLogger) LogQuery(query string, args []interface{}) {
	fields := logrus.Fields{
		"db.query":      query,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	s.logger.WithFields(fields).Info("sorm query start")
}

func (s *simpleQueryLogger) LogQueryAfter(query string, args []interface{}, duration time.Duration, err error) {
	fields := logrus.Fields{
		"db.query":      query,
		"db.duration":   duration,
		"db.error":      err,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	s.logger.WithFields(fields).Info("sorm query finish")
}

func main() {
	if err := configreader.Read(os.Args[0], os.Args[1:], os.Environ(), &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "could not read configuration: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Fatal("program failed")
	}
}

func run(ctx context.Context) error {
	ctx = ctxconfig.WithConfig(ctx, cfg)
	ctx = ctxclock.WithClock(ctx, ctxclock.NewRealClock())

	logger := logrus.New()

	logger.SetLevel(cfg.LogLevel)
	if cfg.LogJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if len(cfg.LogDebugLevels) > 0 {
		logger.AddHook(logrusstackhook.NewStackHook(cfg.LogDebugLevels, nil))
	}

	redacted := cfg.Redacted()

	logger.WithFields(logrus.Fields{
		"config.config":                  redacted.Config,
		"config.env_file":                redacted.EnvFile,
		"config.log_level":               redacted.LogLevel,
		"config.log_debug_levels":        redacted.LogDebugLevels,
		"config.log_queries":             redacted.LogQueries,
		"config.log_sorm":                redacted.LogSORM,
		"config.application_addr":        redacted.ApplicationAddr,
		"config.application_cache_path":  redacted.ApplicationCachePath,
		"config.application_database":    redacted.ApplicationDatabase,
		"config.application_seed":        redacted.ApplicationSeed,
		"config.background_workers":      redacted.BackgroundWorkers,
		"config.http_cache_max_age":      redacted.HTTPCacheMaxAge.String(),
		"config.http_timeout":            redacted.HTTPTimeout.String(),
		"config.youtube_api_key":         redacted.YouTubeAPIKey,
		"config.campaign_check_delay":    redacted.CampaignCheckDelay.String(),
		"config.collection_job_disabled": redacted.CollectionJobDisabled,
	}).Info("program starting")

	if cfg.LogSORM {
		sorm.SetQueryLogger(&simpleQueryLogger{logger})
	}

	ctx = ctxlogger.WithLogger(ctx, logger)

	dbDriver := "sqlite3"

	if !cfg.LogQueries.IsZero() {
		dbDriver = "sqlite3:logged"

		sql.Register(dbDriver, sqlitelogger.New(
			dbDriver,
			&sqlite3.SQLiteDriver{},
			&sqlitelogger.BasicFilter{
				LogSlowerThan: cfg.LogQueries.SlowerThan,
				IgnorePackageStackFrames: []string{
					// standard library
					"database/sql",
					"net/http",
					"runtime",
					// libraries
					"fknsrs.biz/p/sorm",
					"github.com/golang-migrate/migrate/v4",
					"github.com/gorilla/mux",
					"github.com/shogo82148/go-sql-proxy",
					"github.com/urfave/negroni/v2",
					// middleware
					"fknsrs.biz/p/ytcampaigns/internal/ctxclock",
					"fknsrs.biz/p/ytcampaigns/internal/ctxdb",
					"fknsrs.biz/p/ytcampaigns/internal/ctxjobqueue",
					"fknsrs.biz/p/ytcampaigns/internal/ctxlogger",
					"fknsrs.biz/p/ytcampaigns/internal/ctxvideostats",
					"fknsrs.biz/p/ytcampaigns/internal/sqlitelogger",
					// main
					"main",
				},
				IgnoreFunctionQueries: []string{
					"fknsrs.biz/p/ytcampaigns/internal/jobqueue.(*Worker).Run",
				},
			},
		))
	}

	db, err := sql.Open(dbDriver, "file:"+cfg.ApplicationDatabase+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("run: could not open database: %w", err)
	}
	defer db.Close()

	if err := schema.Migrate(db); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if version, dirty, err := schema.Version(db); err == nil {
		logger.WithFields(logrus.Fields{"db.schema_version": version, "db.schema_dirty": dirty}).Info("database ready")
	}

	ctx = ctxdb.WithDB(ctx, db)

	if cfg.ApplicationSeed {
		if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
			created, updated, err := seed.Run(ctx, tx, ctxclock.Now(ctx))
			if err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{"seed.created": created, "seed.updated": updated}).Info("sample creators seeded")

			return nil
		}); err != nil {
			return fmt.Errorf("run: %w", err)
		}
	}

	cacheDB, err := bbolt.Open(cfg.ApplicationCachePath, 0600, &bbolt.Options{Timeout: time.Second * 5})
	if err != nil {
		return fmt.Errorf("run: could not open cache: %w", err)
	}
	defer cacheDB.Close()

	httpClient := ctxhttpclient.New(
		httpcache.NewTransport(nil, httpcache.NewBBoltStorage(cacheDB), cfg.HTTPCacheMaxAge.Duration()),
		cfg.HTTPTimeout.Duration(),
	)

	ctx = ctxhttpclient.WithHTTPClient(ctx, httpClient)

	var source videostats.Source
	if cfg.YouTubeAPIKey != "" {
		logger.Info("using youtube data api for video statistics")
		source = ytapi.NewClient(cfg.YouTubeAPIKey, cfg.YouTubeAPIBaseURL)
	} else {
		logger.Warn("no youtube api key configured; reading video statistics from watch pages, comment counts will be zero")
		source = ytdirect.NewClient(cfg.YouTubeWatchBaseURL)
	}

	ctx = ctxvideostats.WithSource(ctx, source)

	worker := jobqueue.NewWorker(nil)

	ctx = ctxjobqueue.WithWorker(ctx, worker)

	var scheduler *schedule.Scheduler
	if !cfg.CollectionJobDisabled {
		scheduler = schedule.NewScheduler(ctx, jobs.TriggerCollection)
	}

	if err := jobs.Register(worker, scheduler); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	workers := []namedWorker{
		{
			name: "application",
			run: func(ctx context.Context) error {
				return runApplicationWorker(ctx, cfg.ApplicationAddr)
			},
		},
	}

	for i := 0; i < cfg.BackgroundWorkers; i++ {
		workers = append(workers, namedWorker{
			name: fmt.Sprintf("job_queue.%d", i),
			run:  runJobQueueWorker,
		})
	}

	if scheduler == nil {
		logger.Info("collection schedule disabled by configuration")
	} else {
		s, err := schedule.Load(ctx, db)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}

		if err := scheduler.Apply(*s); err != nil {
			return fmt.Errorf("run: %w", err)
		}

		workers = append(workers, namedWorker{
			name: "scheduler",
			run: func(ctx context.Context) error {
				scheduler.Run(ctx)
				return ctx.Err()
			},
		})
	}

	return runAllWorkers(ctx, workers)
}

type namedWorker struct {
	name string
	run  func(ctx context.Context) error
}

// runAllWorkers runs every worker until ctx is done. A worker that returns
// early is restarted after a second; one that fails stops all the others.
func runAllWorkers(ctx context.Context, workers []namedWorker) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	errs := make(chan error, len(workers))

	for id, w := range workers {
		wg.Add(1)

		go func(id int, w namedWorker) {
			defer wg.Done()

			l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
				"worker.id":   id + 1,
				"worker.name": w.name,
			})

			ctx := ctxlogger.WithLogger(ctx, l)

			for {
				err := w.run(ctx)

				if ctx.Err() != nil {
					l.Info("worker stopped")
					return
				}

				if err != nil {
					l.WithError(err).Error("worker failed")
					err = fmt.Errorf("worker %d (%s) failed: %w", id+1, w.name, err)
					errs <- err
					cancel(err)
					return
				}

				l.Info("worker restarted")

				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
		}(id, w)
	}

	wg.Wait()
	close(errs)

	var a []error
	for err := range errs {
		a = append(a, err)
	}

	if len(a) > 0 {
		return errors.Join(a...)
	}

	return context.Cause(ctx)
}

func runApplicationWorker(ctx context.Context, addr string) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{
		"args.addr": addr,
	}).Info("running application worker")

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseFunc(ctxlogger.Register(l))
	n.UseFunc(ctxconfig.Register(ctxconfig.GetConfig(ctx)))
	n.UseFunc(ctxclock.Register(ctxclock.GetClock(ctx)))
	n.UseFunc(ctxdb.Register(ctxdb.GetDB(ctx)))
	n.UseFunc(ctxhttpclient.Register(ctxhttpclient.GetHTTPClient(ctx)))
	n.UseFunc(ctxvideostats.Register(ctxvideostats.GetSource(ctx)))
	n.UseFunc(ctxjobqueue.Register(ctxjobqueue.GetWorker(ctx)))
	n.UseFunc(ctxlogger.Log())
	n.UseHandler(handlers.Router())

	s := &http.Server{
		Addr:              addr,
		Handler:           n,
		ReadHeaderTimeout: time.Second * 10,
		BaseContext:       func(l net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		l.Info("starting server")
		errs <- s.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second*10)
		defer cancel()

		l.Info("stopping server")

		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}

		return ctx.Err()
	}
}

func runJobQueueWorker(ctx context.Context) error {
	l := ctxlogger.GetLogger(ctx)

	l.Info("running job queue worker")

	w := ctxjobqueue.GetWorker(ctx)
	if w == nil {
		return fmt.Errorf("job queue worker not available in context")
	}

	return w.Run(ctx)
}
