// Command calibrate computes calibration statistics over a user's verified
// meal traces, and records calorie verifications.
//
// Usage:
//
//	calibrate [userID] [limit]
//	calibrate verify <entryID> <actualCalories>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joeshaw/envdecode"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nutripilot"
	"nutripilot/calibration"
	"nutripilot/slack"
	"nutripilot/tracestore"
)

func main() {
	ctx := context.Background()

	var analysisConfig nutripilot.AnalysisConfig
	if err := envdecode.Decode(&analysisConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var calibrationConfig nutripilot.CalibrationConfig
	if err := envdecode.Decode(&calibrationConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	if argOr(1, "") == "verify" {
		if err := runVerify(ctx, analysisConfig); err != nil {
			slog.Error("RESULT: Verification failed", "error", err)
			os.Exit(1)
		}
		return
	}

	userID := argOr(1, "user-1")
	limit, err := strconv.Atoi(argOr(2, "0"))
	if err != nil {
		log.Fatalf("limit must be an integer: %s", err)
	}

	reader, cleanup, err := newTraceReader(ctx, analysisConfig)
	if err != nil {
		slog.Error("SETUP: Failed to open trace store", "error", err)
		return
	}
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("Failed to close trace store", "error", err)
		}
	}()

	tracerProvider, _, otelShutdown, err := nutripilot.InitOtel(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
		return
	}
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	tracer := tracerProvider.Tracer(nutripilot.TracerNameCalibration)
	ctx, span := tracer.Start(ctx, nutripilot.TracerNameCalibration, trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.Int("limit", limit),
	))
	defer span.End()

	service := calibration.NewService(
		calibration.NewEngine(calibrationConfig.Policy()),
		reader,
		calibrationConfig.DefaultLimit,
		calibrationConfig.MaxLimit,
	)

	report, err := service.Calibrate(ctx, userID, limit)
	if err != nil {
		slog.Error("RESULT: Calibration failed", "error", err, "user_id", userID)
		return
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		slog.Error("RESULT: Failed to marshal report", "error", err)
		return
	}
	fmt.Println(string(out))

	if analysisConfig.SlackWebhookURL != "" {
		notifier := slack.NewNotifier(
			slack.NewClient(analysisConfig.SlackWebhookURL, http.DefaultClient),
			analysisConfig.SlackChannel,
		)
		if err := notifier.NotifyCalibration(ctx, report); err != nil {
			slog.Error("Failed to post report to Slack", "error", err)
		}
	}
}

// runVerify records the user-confirmed calorie count for a prior analysis
// session so it counts toward future calibrations.
func runVerify(ctx context.Context, analysisConfig nutripilot.AnalysisConfig) error {
	entryID := argOr(2, "")
	if entryID == "" {
		return fmt.Errorf("usage: calibrate verify <entryID> <actualCalories>")
	}
	actualCalories, err := strconv.ParseFloat(argOr(3, ""), 64)
	if err != nil {
		return fmt.Errorf("actualCalories must be a number: %w", err)
	}

	store, err := tracestore.NewSQLiteStore(analysisConfig.TraceDBPath)
	if err != nil {
		return fmt.Errorf("opening trace store: %w", err)
	}
	defer store.Close()

	if err := store.SubmitVerification(ctx, entryID, actualCalories, "user_reported"); err != nil {
		return err
	}
	slog.Info("RESULT: Verification recorded", "entry_id", entryID, "actual_calories", actualCalories)
	return nil
}

// newTraceReader opens the verified-trace source: the S3 export when
// TRACE_S3_BUCKET is set, otherwise the local SQLite store.
func newTraceReader(ctx context.Context, analysisConfig nutripilot.AnalysisConfig) (calibration.TraceReader, func() error, error) {
	bucket := os.Getenv("TRACE_S3_BUCKET")
	if bucket != "" {
		key := os.Getenv("TRACE_S3_KEY")
		if key == "" {
			key = "traces.json"
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS config: %w", err)
		}
		slog.Info("SETUP: Reading traces from S3", "bucket", bucket, "key", key)
		return tracestore.NewS3VerifiedReader(s3.NewFromConfig(awsCfg), bucket, key), func() error { return nil }, nil
	}

	store, err := tracestore.NewSQLiteStore(analysisConfig.TraceDBPath)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("SETUP: Reading traces from SQLite", "path", analysisConfig.TraceDBPath)
	return store, store.Close, nil
}

func argOr(i int, def string) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return def
}
