// Package bedrock implements vision analysis over the Bedrock Converse API.
// The model is forced to answer through a single tool call so the extraction
// arrives as structured data.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"nutripilot"
	"nutripilot/state"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const (
	// defaultModelID is an inference profile ID, not the foundation model's ID.
	// See https://docs.aws.amazon.com/bedrock/latest/userguide/inference-profiles.html.
	defaultModelID = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"

	defaultMaxTokens = 1024

	// Low temperature and top_p keep the structured extraction consistent.
	defaultTemperature = 0.2
	defaultTopP        = 0.9
)

type bedrockRuntimeClient interface {
	Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type Options struct {
	ModelID     string
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// Analyzer calls a Bedrock vision model to extract food items from a meal
// photo. It implements nutripilot.VisionAnalysis.
type Analyzer struct {
	brc  bedrockRuntimeClient
	opts Options
}

func NewAnalyzer(brc bedrockRuntimeClient, opts Options) *Analyzer {
	if opts.ModelID == "" {
		opts.ModelID = defaultModelID
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.TopP == 0 {
		opts.TopP = defaultTopP
	}
	return &Analyzer{
		brc:  brc,
		opts: opts,
	}
}

// Analyze sends the meal evidence to the model and parses the forced tool
// call back into a VisionResult. Throttling, model timeouts, and service
// errors come back marked transient so the caller can retry.
func (a *Analyzer) Analyze(ctx context.Context, in nutripilot.VisionInput) (nutripilot.VisionResult, error) {
	if len(in.Image) == 0 && in.Text == "" {
		return nutripilot.VisionResult{}, fmt.Errorf("vision input has neither image nor text")
	}

	var content []types.ContentBlock
	if len(in.Image) > 0 {
		format := in.ImageFormat
		if format == "" {
			format = "jpeg"
		}
		content = append(content, &types.ContentBlockMemberImage{
			Value: types.ImageBlock{
				Format: types.ImageFormat(format),
				Source: &types.ImageSourceMemberBytes{Value: in.Image},
			},
		})
	}
	if in.Text != "" {
		content = append(content, &types.ContentBlockMemberText{Value: in.Text})
	} else {
		content = append(content, &types.ContentBlockMemberText{Value: "Identify the foods in this meal photo."})
	}

	spec, err := buildReportToolSpec()
	if err != nil {
		return nutripilot.VisionResult{}, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: &a.opts.ModelID,
		System:  []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: systemPrompt}},
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: content,
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(a.opts.MaxTokens),
			Temperature: aws.Float32(a.opts.Temperature),
			TopP:        aws.Float32(a.opts.TopP),
		},
		ToolConfig: &types.ToolConfiguration{
			Tools: []types.Tool{&types.ToolMemberToolSpec{Value: spec}},
			ToolChoice: &types.ToolChoiceMemberTool{
				Value: types.SpecificToolChoice{Name: aws.String(reportToolName)},
			},
		},
	}

	out, err := a.brc.Converse(ctx, input)
	if err != nil {
		slog.Error("VISION: Bedrock invoke failed", "error", err)
		return nutripilot.VisionResult{}, classify(err)
	}

	slog.Info("VISION: Bedrock invoke succeeded",
		"stop_reason", out.StopReason,
		"latency_ms", aws.ToInt64(out.Metrics.LatencyMs),
		"input_tokens", aws.ToInt32(out.Usage.InputTokens),
		"output_tokens", aws.ToInt32(out.Usage.OutputTokens),
	)

	payload, err := payloadFromOutput(out)
	if err != nil {
		return nutripilot.VisionResult{}, err
	}
	return toVisionResult(payload), nil
}

// classify marks retryable Bedrock failures as transient.
func classify(err error) error {
	var (
		throttled   *types.ThrottlingException
		timeout     *types.ModelTimeoutException
		unavailable *types.ServiceUnavailableException
		internal    *types.InternalServerException
	)
	if errors.As(err, &throttled) || errors.As(err, &timeout) ||
		errors.As(err, &unavailable) || errors.As(err, &internal) {
		return nutripilot.Transient(err)
	}
	return err
}

// buildReportToolSpec constructs the forced tool's ToolSpecification.
// Pre-marshal the schema so its custom MarshalJSON applies before handing it
// to the document system.
func buildReportToolSpec() (types.ToolSpecification, error) {
	schemaJSON, err := json.Marshal(reportToolSchema())
	if err != nil {
		return types.ToolSpecification{}, fmt.Errorf("failed to marshal report tool schema: %w", err)
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return types.ToolSpecification{}, fmt.Errorf("failed to unmarshal report tool schema: %w", err)
	}

	return types.ToolSpecification{
		Name:        aws.String(reportToolName),
		Description: aws.String("Report the foods detected in the meal with portion estimates and confidence."),
		InputSchema: &types.ToolInputSchemaMemberJson{
			Value: document.NewLazyDocument(schemaMap),
		},
	}, nil
}

// payloadFromOutput extracts the forced tool call's input.
func payloadFromOutput(out *bedrockruntime.ConverseOutput) (reportPayload, error) {
	var payload reportPayload

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil {
		return payload, fmt.Errorf("model returned no message output")
	}

	for _, cb := range msg.Value.Content {
		tu, ok := cb.(*types.ContentBlockMemberToolUse)
		if !ok || aws.ToString(tu.Value.Name) != reportToolName {
			continue
		}
		var raw map[string]any
		if err := tu.Value.Input.UnmarshalSmithyDocument(&raw); err != nil {
			return payload, fmt.Errorf("failed to decode tool input: %w", err)
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return payload, fmt.Errorf("failed to re-marshal tool input: %w", err)
		}
		if err := json.Unmarshal(b, &payload); err != nil {
			return payload, fmt.Errorf("tool input does not match report schema: %w", err)
		}
		return payload, nil
	}

	return payload, fmt.Errorf("model did not call %s", reportToolName)
}

// toVisionResult converts the payload, clamping confidences to [0,1] and
// dropping malformed bounding boxes rather than failing the extraction.
func toVisionResult(payload reportPayload) nutripilot.VisionResult {
	foods := make([]state.FoodItem, 0, len(payload.Foods))
	for _, f := range payload.Foods {
		item := state.FoodItem{
			Name:               f.Name,
			PortionGrams:       f.PortionGrams,
			PortionDescription: f.PortionDescription,
			Confidence:         clamp01(f.Confidence),
		}
		if f.BoundingBox != nil {
			box := state.BoundingBox{X1: f.BoundingBox.X1, Y1: f.BoundingBox.Y1, X2: f.BoundingBox.X2, Y2: f.BoundingBox.Y2}
			if box.Valid() {
				item.BoundingBox = &box
			} else {
				slog.Warn("VISION: Dropping malformed bounding box", "food", f.Name)
			}
		}
		foods = append(foods, item)
	}
	return nutripilot.VisionResult{
		Foods:      foods,
		Confidence: clamp01(payload.Confidence),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
