package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	slogecho "github.com/samber/slog-echo"
	"golang.org/x/time/rate"

	"github.com/magickw/linkdao-guard/abusemod/alerts"
	"github.com/magickw/linkdao-guard/abusemod/countstore"
	"github.com/magickw/linkdao-guard/abusemod/detect"
	"github.com/magickw/linkdao-guard/abusemod/dispatch"
	"github.com/magickw/linkdao-guard/abusemod/engine"
	"github.com/magickw/linkdao-guard/abusemod/eventlog"
	"github.com/magickw/linkdao-guard/abusemod/policy"
	"github.com/magickw/linkdao-guard/abusemod/profilestore"
	"github.com/magickw/linkdao-guard/abusemod/scorer"
)

type Server struct {
	logger *slog.Logger
	engine *engine.Engine
	echo   *echo.Echo
	httpd  *http.Server
	rdb    *redis.Client
	// periodic cleanup hooks for the in-process store fallbacks
	sweepers []func()
}

type Config struct {
	Logger              *slog.Logger
	RedisURL            string
	Bind                string
	SlackWebhookURL     string
	ClassifierEndpoints []string
	ClassifierAPIToken  string
	ClassifierRateLimit int
	ReportQuotaDay      int
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	pol := policy.DefaultPolicy()
	if config.ReportQuotaDay != 0 {
		pol.ReportQuotaDay = config.ReportQuotaDay
	}
	if err := pol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	var counters countstore.CountStore
	var profiles profilestore.ProfileStore
	var actions dispatch.ActionStore
	var deduper alerts.DedupeStore
	var events eventlog.EventLog
	var rdb *redis.Client
	var sweepers []func()
	if config.RedisURL != "" {
		// generic client, for health checks
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		_, err = rdb.Ping(context.TODO()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}

		cnt, err := countstore.NewRedisCountStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis countstore: %v", err)
		}
		counters = cnt

		prf, err := profilestore.NewRedisProfileStore(config.RedisURL, 30*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("initializing redis profile store: %v", err)
		}
		profiles = prf

		act, err := dispatch.NewRedisActionStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis action store: %v", err)
		}
		actions = act

		ddp, err := alerts.NewRedisDedupeStore(config.RedisURL, pol.AlertDedupeTTL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis dedupe store: %v", err)
		}
		deduper = ddp

		evl, err := eventlog.NewRedisEventLog(config.RedisURL, pol.EventLogCap)
		if err != nil {
			return nil, fmt.Errorf("initializing redis event log: %v", err)
		}
		events = evl
	} else {
		logger.Info("redis not configured, using in-process stores (single instance only)")
		memCounters := countstore.NewMemCountStore()
		memActions := dispatch.NewMemActionStore()
		memDeduper := alerts.NewMemDedupeStore(pol.AlertDedupeTTL)
		counters = memCounters
		profiles = profilestore.NewMemProfileStore(5_000, 30*time.Minute)
		actions = memActions
		deduper = memDeduper
		events = eventlog.NewMemEventLog(pol.EventLogCap)
		sweepers = append(sweepers, memCounters.Sweep, memActions.Sweep, memDeduper.Sweep)
	}

	var notifier alerts.Notifier
	if config.SlackWebhookURL != "" {
		logger.Info("configuring slack alert notifier")
		notifier = &alerts.SlackNotifier{SlackWebhookURL: config.SlackWebhookURL}
	} else {
		notifier = &alerts.LogNotifier{Log: logger.Info}
	}

	var providers []scorer.Provider
	for i, endpoint := range config.ClassifierEndpoints {
		logger.Info("configuring content classifier provider", "endpoint", endpoint)
		p := scorer.NewHTTPProvider(fmt.Sprintf("classifier-%d", i), endpoint, config.ClassifierAPIToken)
		if config.ClassifierRateLimit > 0 {
			p.Limiter = rate.NewLimiter(rate.Limit(config.ClassifierRateLimit), 1)
		}
		providers = append(providers, p)
	}

	eng := engine.Engine{
		Logger:    logger,
		Policy:    pol,
		Counters:  counters,
		Detectors: detect.DefaultSet(),
		Scorer: &scorer.Scorer{
			Logger:    logger,
			Policy:    pol,
			Providers: providers,
		},
		Dispatcher: &dispatch.Dispatcher{
			Logger:         logger,
			Store:          actions,
			Enforcer:       &dispatch.LogEnforcer{Logger: logger},
			Counters:       counters,
			ReportQuotaDay: pol.ReportQuotaDay,
		},
		Deduper:  deduper,
		Notifier: notifier,
		Events:   events,
		Profiles: profiles,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	srv := &Server{
		logger:   logger,
		engine:   &eng,
		echo:     e,
		rdb:      rdb,
		sweepers: sweepers,
	}

	e.HTTPErrorHandler = srv.errorHandler
	e.GET("/_health", srv.HandleHealthCheck)
	e.POST("/guard/check", srv.HandleCheckEvent)
	e.POST("/guard/assess", srv.HandleAssessContent)
	e.POST("/guard/events", srv.HandleRecordEvent)
	e.POST("/guard/events/:id/resolve", srv.HandleResolveEvent)
	e.GET("/guard/stats", srv.HandleGetStats)

	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RunAPI(ctx context.Context) error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	go srv.RunSweepMemStores(ctx)

	// Wait for a signal to exit.
	srv.logger.Info("registering OS exit signal handler")
	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		srv.logger.Info("received OS exit signal", "signal", sig)

		// Shut down the HTTP server
		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("HTTP server shutdown error", "err", err)
		}

		// Trigger the return that causes an exit.
		close(quit)
	}()
	<-quit
	srv.logger.Info("graceful shutdown complete")
	return nil
}

// this method runs in a loop, evicting expired entries from the in-process
// store fallbacks once per minute
func (srv *Server) RunSweepMemStores(ctx context.Context) {
	if len(srv.sweepers) == 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sweep := range srv.sweepers {
				sweep()
			}
		}
	}
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
