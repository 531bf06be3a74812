package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"log/slog"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/joeshaw/envdecode"

	"nutripilot"
	"nutripilot/biodata"
	"nutripilot/goals"
	"nutripilot/nutrition"
	"nutripilot/orchestrator"
	"nutripilot/state"
	"nutripilot/tracestore"
	visionbedrock "nutripilot/vision/bedrock"
)

type Params struct {
	SessionID   string `json:"session_id,omitempty"`
	UserID      string `json:"user_id"`
	MealType    string `json:"meal_type,omitempty"`
	Text        string `json:"text,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	ImageFormat string `json:"image_format,omitempty"`
}

type Results struct {
	State state.MealState `json:"state"`
}

func main() {
	fn := func(ctx context.Context, params Params) (Results, error) {
		if params.UserID == "" {
			return Results{}, fmt.Errorf("user_id is required")
		}

		var modelConfig nutripilot.ModelConfig
		if err := envdecode.Decode(&modelConfig); err != nil {
			log.Fatalf("Failed to decode: %s", err)
		}

		var analysisConfig nutripilot.AnalysisConfig
		if err := envdecode.Decode(&analysisConfig); err != nil {
			log.Fatalf("Failed to decode: %s", err)
		}

		var image []byte
		if params.ImageBase64 != "" {
			decoded, err := base64.StdEncoding.DecodeString(params.ImageBase64)
			if err != nil {
				return Results{}, fmt.Errorf("invalid image_base64: %w", err)
			}
			image = decoded
		}

		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
		if err != nil {
			return Results{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		vision := visionbedrock.NewAnalyzer(bedrockruntime.NewFromConfig(awsCfg), visionbedrock.Options{
			ModelID:     modelConfig.ModelID,
			MaxTokens:   modelConfig.MaxTokens,
			Temperature: modelConfig.Temperature,
			TopP:        modelConfig.TopP,
		})
		slog.Info("SETUP: Bedrock vision initialized", "model_id", modelConfig.ModelID)

		readings := biodata.StaticSource{
			params.UserID: {UserID: params.UserID, BloodGlucoseMgDL: 95, SodiumConsumedMg: 1400},
		}

		tracerProvider, meterProvider, otelShutdown, err := nutripilot.InitOtel(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
			return Results{}, err
		}
		defer func() {
			if err := otelShutdown(ctx); err != nil {
				slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
			}
		}()

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
			nutripilot.NewStdoutAnalysisLogger(),
			cfg,
			tracerProvider.Tracer(nutripilot.TracerNameOrchestrator),
			meterProvider.Meter(nutripilot.TracerNameOrchestrator),
		)

		result, err := o.Run(ctx, orchestrator.Request{
			SessionID:   params.SessionID,
			UserID:      params.UserID,
			MealType:    state.MealType(params.MealType),
			Image:       image,
			ImageFormat: params.ImageFormat,
			Text:        params.Text,
			Profile: nutripilot.UserProfile{
				UserID: params.UserID,
				Goals:  []nutripilot.HealthGoal{nutripilot.GoalGeneralWellness},
			},
		})
		if err != nil {
			slog.Error("RESULT: Analysis failed", "error", err)
			return Results{State: result}, err
		}

		traces := tracestore.NewFileStore(analysisConfig.TraceFilePath)
		if err := traces.SaveTrace(ctx, tracestore.FromSnapshot(result)); err != nil {
			slog.Error("RESULT: Failed to persist trace", "error", err)
		}

		return Results{State: result}, nil
	}

	lambda.Start(fn)
}
