package bedrock

import "github.com/modelcontextprotocol/go-sdk/jsonschema"

// reportToolName is the forced tool the model must call with its extraction.
// Routing the answer through a tool spec keeps the output structured without
// JSON-in-prose parsing.
const reportToolName = "report_detected_foods"

const systemPrompt = `You are a nutrition vision analyst.

GOAL:
Identify every distinct food item visible in the meal photo (or described in the accompanying text), estimate its portion weight in grams, and report your findings by calling the report_detected_foods tool exactly once.

RULES:
- Report each distinct food separately; do not merge a plate into one item.
- portion_grams is your best estimate of the edible weight as served.
- confidence is your certainty in the identification and portion, 0.0 to 1.0.
- Report bounding boxes only when you can localize the item in the image; coordinates are normalized to [0,1].
- If you cannot identify any food, call the tool with an empty foods array and confidence 0.
- Never invent foods that are not visible or described.`

// reportPayload is the shape the model fills in via the forced tool call.
type reportPayload struct {
	Foods []reportedFood `json:"foods"`
	// Overall extraction confidence, 0..1.
	Confidence float64 `json:"confidence"`
}

type reportedFood struct {
	Name               string       `json:"name"`
	PortionGrams       float64      `json:"portion_grams"`
	PortionDescription string       `json:"portion_description,omitempty"`
	Confidence         float64      `json:"confidence"`
	BoundingBox        *reportedBox `json:"bounding_box,omitempty"`
}

type reportedBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func reportToolSchema() *jsonschema.Schema {
	boxSchema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"x1": {Type: "number"},
			"y1": {Type: "number"},
			"x2": {Type: "number"},
			"y2": {Type: "number"},
		},
		Required: []string{"x1", "y1", "x2", "y2"},
	}
	foodSchema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":                {Type: "string", Description: "Common name of the food, lowercase"},
			"portion_grams":       {Type: "number", Description: "Estimated edible weight in grams"},
			"portion_description": {Type: "string", Description: "Human-readable portion, e.g. '1 cup'"},
			"confidence":          {Type: "number", Description: "Identification confidence, 0 to 1"},
			"bounding_box":        boxSchema,
		},
		Required: []string{"name", "portion_grams", "confidence"},
	}
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"foods":      {Type: "array", Items: foodSchema},
			"confidence": {Type: "number", Description: "Overall extraction confidence, 0 to 1"},
		},
		Required: []string{"foods", "confidence"},
	}
}
