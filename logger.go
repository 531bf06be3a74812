package nutripilot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// AnalysisLogger is the interface for per-phase analysis logging.
type AnalysisLogger interface {
	LogPhase(entry PhaseLog) error
}

// NewAnalysisLogFilePath returns a file path based on a cleaned up session id to make it easier to identify specific logs produced by various runs.
func NewAnalysisLogFilePath(sessionID string) string {
	return fmt.Sprintf(
		"./logs/%d.%s.json",
		time.Now().Unix(),
		strings.ReplaceAll(strings.ToLower(sessionID), ":", "_"),
	)
}

// PhaseLog represents a single phase in the analysis process
type PhaseLog struct {
	Phase      string    `json:"phase"`
	Timestamp  time.Time `json:"timestamp"`
	Input      any       `json:"input,omitempty"`
	Output     any       `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// FileAnalysisLogger logs to a file, accumulating phases and flushing at the end
type FileAnalysisLogger struct {
	phases []PhaseLog
	writer io.Writer
}

// NewFileAnalysisLogger creates a new file-based analysis logger
func NewFileAnalysisLogger(writer io.Writer) *FileAnalysisLogger {
	return &FileAnalysisLogger{
		phases: make([]PhaseLog, 0),
		writer: writer,
	}
}

// LogPhase logs a phase to the buffer (does not flush immediately)
func (fal *FileAnalysisLogger) LogPhase(entry PhaseLog) error {
	fal.phases = append(fal.phases, entry)
	return nil
}

// Flush flushes all accumulated phases to the writer
func (fal *FileAnalysisLogger) Flush() error {
	if fal.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(map[string]any{
		"analysis_session": map[string]any{
			"timestamp": time.Now(),
			"phases":    fal.phases,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal analysis log: %w", err)
	}

	if _, err := fal.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write analysis log: %w", err)
	}

	// Clear the buffer after successful write
	fal.phases = fal.phases[:0]
	return nil
}

// NoOpAnalysisLogger is a logger that discards all log entries
type NoOpAnalysisLogger struct{}

// NewNoOpAnalysisLogger creates a new no-op analysis logger
func NewNoOpAnalysisLogger() *NoOpAnalysisLogger {
	return &NoOpAnalysisLogger{}
}

// LogPhase discards the phase log (no-op)
func (nop *NoOpAnalysisLogger) LogPhase(entry PhaseLog) error {
	return nil
}

// StdoutAnalysisLogger logs each phase as a JSON line to stdout (for Lambda/CloudWatch)
type StdoutAnalysisLogger struct{}

// NewStdoutAnalysisLogger creates a new stdout-based analysis logger
func NewStdoutAnalysisLogger() *StdoutAnalysisLogger {
	return &StdoutAnalysisLogger{}
}

// LogPhase writes the phase as a JSON line to os.Stdout
func (l *StdoutAnalysisLogger) LogPhase(entry PhaseLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
