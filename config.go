package nutripilot

import (
	"time"

	"nutripilot/calibration"
)

type ModelConfig struct {
	ModelID     string  `env:"MODEL_ID,default=us.anthropic.claude-3-7-sonnet-20250219-v1:0"`
	MaxTokens   int32   `env:"MAX_TOKENS,default=1024"`
	Temperature float32 `env:"TEMPERATURE,default=0.2"`
	TopP        float32 `env:"TOP_P,default=0.9"`
}

type AnalysisConfig struct {
	TraceDBPath      string        `env:"TRACE_DB_PATH,default=artifacts/traces.db"`
	TraceFilePath    string        `env:"TRACE_FILE_PATH,default=artifacts/traces.json"`
	ProfilesPath     string        `env:"PROFILES_PATH,default=artifacts/profiles.json"`
	VisionTimeout    time.Duration `env:"VISION_TIMEOUT,default=10s"`
	LookupTimeout    time.Duration `env:"LOOKUP_TIMEOUT,default=3s"`
	ScoringTimeout   time.Duration `env:"SCORING_TIMEOUT,default=3s"`
	VisionAttempts   int           `env:"VISION_ATTEMPTS,default=3"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY,default=500ms"`
	SlackChannel     string        `env:"SLACK_CHANNEL,default="`
	SlackWebhookURL  string        `env:"SLACK_WEBHOOK_URL,default="`
}

type CalibrationConfig struct {
	MinDataPoints        int     `env:"CALIBRATION_MIN_DATA_POINTS,default=3"`
	AccurateBandPct      float64 `env:"CALIBRATION_ACCURATE_BAND_PCT,default=5"`
	ExcellentMAPE        float64 `env:"CALIBRATION_EXCELLENT_MAPE,default=10"`
	GoodMAPE             float64 `env:"CALIBRATION_GOOD_MAPE,default=15"`
	NeedsImprovementMAPE float64 `env:"CALIBRATION_NEEDS_IMPROVEMENT_MAPE,default=25"`
	DefaultLimit         int     `env:"CALIBRATION_DEFAULT_LIMIT,default=25"`
	MaxLimit             int     `env:"CALIBRATION_MAX_LIMIT,default=100"`
}

// Policy converts the decoded config into calibration thresholds.
func (c CalibrationConfig) Policy() calibration.Policy {
	p := calibration.DefaultPolicy()
	p.MinDataPoints = c.MinDataPoints
	p.AccurateBandPct = c.AccurateBandPct
	p.ExcellentMAPE = c.ExcellentMAPE
	p.GoodMAPE = c.GoodMAPE
	p.NeedsImprovementMAPE = c.NeedsImprovementMAPE
	p.MaxDataPointsInReport = c.DefaultLimit
	return p
}
