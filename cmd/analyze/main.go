package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nutripilot"
	"nutripilot/biodata"
	"nutripilot/goals"
	"nutripilot/nutrition"
	"nutripilot/orchestrator"
	"nutripilot/slack"
	"nutripilot/state"
	"nutripilot/tracestore"
	visionbedrock "nutripilot/vision/bedrock"
	"nutripilot/vision/textparse"
)

func main() {
	ctx := context.Background()

	var modelConfig nutripilot.ModelConfig
	if err := envdecode.Decode(&modelConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var analysisConfig nutripilot.AnalysisConfig
	if err := envdecode.Decode(&analysisConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	userID := argOr(1, "user-1")
	description := argOr(2, "grilled chicken with 200g of white rice and broccoli")
	sessionID := uuid.NewString()

	logger, cleanup, err := newAnalysisLogger(sessionID)
	if err != nil {
		slog.Error("SETUP: Failed to create analysis logger", "error", err)
		return
	}
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("Failed to flush analysis log", "error", err)
		}
	}()

	vision, err := newVision(ctx, modelConfig)
	if err != nil {
		slog.Error("SETUP: Failed to create vision capability", "error", err)
		return
	}

	readings := biodata.StaticSource{
		userID: {UserID: userID, BloodGlucoseMgDL: 95, SodiumConsumedMg: 1400},
	}
	profile := loadProfile(analysisConfig.ProfilesPath, userID)

	traces, err := tracestore.NewSQLiteStore(analysisConfig.TraceDBPath)
	if err != nil {
		slog.Error("SETUP: Failed to open trace store", "error", err)
		return
	}
	defer traces.Close()
	slog.Info("SETUP: Trace store initialized", "path", analysisConfig.TraceDBPath)

	tracerProvider, meterProvider, otelShutdown, err := nutripilot.InitOtel(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
		return
	}
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	tracer := tracerProvider.Tracer(nutripilot.TracerNameOrchestrator)
	ctx, span := tracer.Start(ctx, nutripilot.TracerNameOrchestrator, trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("user_id", userID),
	))
	defer span.End()

	cfg := orchestrator.DefaultConfig()
	cfg.VisionTimeout = analysisConfig.VisionTimeout
	cfg.LookupTimeout = analysisConfig.LookupTimeout
	cfg.ScoringTimeout = analysisConfig.ScoringTimeout
	cfg.VisionAttempts = analysisConfig.VisionAttempts
	cfg.RetryBaseDelay = analysisConfig.RetryBaseDelay

	o := orchestrator.NewInstrumentedOrchestrator(
		vision,
		biodata.NewFetcher(readings),
		nutrition.NewResolver(),
		goals.NewScorer(),
		logger,
		cfg,
		tracer,
		meterProvider.Meter(nutripilot.TracerNameOrchestrator),
	)

	result, err := o.Run(ctx, orchestrator.Request{
		SessionID: sessionID,
		UserID:    userID,
		MealType:  state.MealLunch,
		Text:      description,
		Profile:   profile,
	})
	if err != nil {
		slog.Error("RESULT: Analysis failed", "error", err, "session_id", sessionID)
		return
	}

	if err := traces.SaveTrace(ctx, tracestore.FromSnapshot(result)); err != nil {
		slog.Error("RESULT: Failed to persist trace", "error", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		slog.Error("RESULT: Failed to marshal result", "error", err)
		return
	}
	fmt.Println(string(out))

	if analysisConfig.SlackWebhookURL != "" {
		notifier := slack.NewNotifier(
			slack.NewClient(analysisConfig.SlackWebhookURL, http.DefaultClient),
			analysisConfig.SlackChannel,
		)
		if err := notifier.NotifyAnalysis(ctx, result); err != nil {
			slog.Error("Failed to post result to Slack", "error", err)
		}
	}
}

// newVision picks the vision capability: the Bedrock model when
// VISION_MODE=bedrock, otherwise the local text parser.
func newVision(ctx context.Context, modelConfig nutripilot.ModelConfig) (nutripilot.VisionAnalysis, error) {
	if os.Getenv("VISION_MODE") != "bedrock" {
		slog.Info("SETUP: Using text-parse vision")
		return textparse.NewAnalyzer(), nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
	if err != nil {
		return nil, err
	}
	brc := bedrockruntime.NewFromConfig(awsCfg)
	slog.Info("SETUP: Using Bedrock vision", "model_id", modelConfig.ModelID)
	return visionbedrock.NewAnalyzer(brc, visionbedrock.Options{
		ModelID:     modelConfig.ModelID,
		MaxTokens:   modelConfig.MaxTokens,
		Temperature: modelConfig.Temperature,
		TopP:        modelConfig.TopP,
	}), nil
}

// loadProfile reads the user's profile from the profiles JSON file, falling
// back to a general-wellness default when the file or user is missing.
func loadProfile(path, userID string) nutripilot.UserProfile {
	fallback := nutripilot.UserProfile{
		UserID: userID,
		Goals:  []nutripilot.HealthGoal{nutripilot.GoalGeneralWellness},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Info("SETUP: No profiles file, using default profile", "path", path)
		return fallback
	}
	var profiles []nutripilot.UserProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		slog.Error("SETUP: Failed to parse profiles file", "error", err, "path", path)
		return fallback
	}
	for _, p := range profiles {
		if p.UserID == userID {
			return p
		}
	}
	slog.Info("SETUP: User not in profiles file, using default profile", "user_id", userID)
	return fallback
}

func newAnalysisLogger(sessionID string) (nutripilot.AnalysisLogger, func() error, error) {
	logFilePath := nutripilot.NewAnalysisLogFilePath(sessionID)
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, func() error { return err }, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := nutripilot.NewFileAnalysisLogger(logFile)
	cleanup := func() error {
		return errors.Join(logger.Flush(), logFile.Close())
	}
	return logger, cleanup, nil
}

func argOr(i int, def string) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return def
}
