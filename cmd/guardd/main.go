package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "guardd",
		Usage:   "abuse detection daemon (guards the gates)",
		Version: versioninfo.Short(),
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "URL of redis for shared counters and action state, eg: redis://localhost:6379/0 (blank for in-process stores)",
			EnvVars: []string{"GUARD_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3899",
			EnvVars: []string{"GUARD_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3898",
			EnvVars: []string{"GUARD_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "slack incoming webhook URL for abuse pattern alerts",
			EnvVars: []string{"GUARD_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL"},
		},
		&cli.StringSliceFlag{
			Name:    "classifier-endpoint",
			Usage:   "URL of an external content classifier API (repeatable)",
			EnvVars: []string{"GUARD_CLASSIFIER_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "classifier-api-token",
			Usage:   "bearer token for classifier APIs",
			EnvVars: []string{"GUARD_CLASSIFIER_API_TOKEN"},
		},
		&cli.IntFlag{
			Name:    "classifier-rate-limit",
			Usage:   "max number of requests per second to each classifier API",
			Value:   10,
			EnvVars: []string{"GUARD_CLASSIFIER_RATE_LIMIT"},
		},
		&cli.IntFlag{
			Name:    "report-quota-day",
			Usage:   "max number of outbound abuse reports per UTC day (0 for unlimited)",
			Value:   50,
			EnvVars: []string{"GUARD_REPORT_QUOTA_DAY"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		// Enable OTLP HTTP exporter
		// For relevant environment variables:
		// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
		// At a minimum, you need to set
		// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
		if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
			slog.Info("setting up trace exporter", "endpoint", ep)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			exp, err := otlptracehttp.New(ctx)
			if err != nil {
				log.Fatal("failed to create trace exporter", "error", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := exp.Shutdown(ctx); err != nil {
					slog.Error("failed to shutdown trace exporter", "error", err)
				}
			}()

			tp := tracesdk.NewTracerProvider(
				tracesdk.WithBatcher(exp),
				tracesdk.WithResource(resource.NewWithAttributes(
					semconv.SchemaURL,
					semconv.ServiceNameKey.String("guardd"),
					attribute.String("env", os.Getenv("ENVIRONMENT")),         // DataDog
					attribute.String("environment", os.Getenv("ENVIRONMENT")), // Others
					attribute.Int64("ID", 1),
				)),
			)
			otel.SetTracerProvider(tp)
		}

		srv, err := NewServer(Config{
			Logger:              logger,
			RedisURL:            cctx.String("redis-url"),
			Bind:                cctx.String("bind"),
			SlackWebhookURL:     cctx.String("slack-webhook-url"),
			ClassifierEndpoints: cctx.StringSlice("classifier-endpoint"),
			ClassifierAPIToken:  cctx.String("classifier-api-token"),
			ClassifierRateLimit: cctx.Int("classifier-rate-limit"),
			ReportQuotaDay:      cctx.Int("report-quota-day"),
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.RunAPI(ctx); err != nil {
			return fmt.Errorf("failed to run abuse detection service: %w", err)
		}
		return nil
	},
}
