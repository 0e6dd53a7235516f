package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

// RetentionPolicy bounds how long audit records are kept.
type RetentionPolicy string

// Retention policies.
const (
	Retention7Days      RetentionPolicy = "7d"
	Retention30Days     RetentionPolicy = "30d"
	Retention90Days     RetentionPolicy = "90d"
	Retention365Days    RetentionPolicy = "365d"
	RetentionIndefinite RetentionPolicy = "indefinite"
)

// Duration converts the policy to a cutoff age. Indefinite returns 0.
func (r RetentionPolicy) Duration() time.Duration {
	switch r {
	case Retention7Days:
		return 7 * 24 * time.Hour
	case Retention30Days:
		return 30 * 24 * time.Hour
	case Retention90Days:
		return 90 * 24 * time.Hour
	case Retention365Days:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// Suspicious pattern labels annotated on records at write time.
const (
	PatternHighCost      = "high_cost_spike"
	PatternRapidFailures = "rapid_consecutive_failures"
)

// Write-time suspicious pattern thresholds.
const (
	highCostThreshold    = 1.0
	rapidFailureCount    = 5
	rapidFailureWindow   = time.Minute
	actorTrackerCapacity = 1024
)

// RecordMetadata is the annotation block of one audit record.
type RecordMetadata struct {
	Cost               *float64 `json:"cost,omitempty"`
	DurationMs         *float64 `json:"duration_ms,omitempty"`
	Provider           string   `json:"provider,omitempty"`
	PIIDetected        bool     `json:"pii_detected"`
	PIIRedacted        bool     `json:"pii_redacted"`
	SuspiciousPatterns []string `json:"suspicious_patterns,omitempty"`
}

// Record is one persisted audit row. Inputs and outputs are stored
// redacted only.
type Record struct {
	LogID           string         `json:"log_id"`
	Timestamp       time.Time      `json:"timestamp"`
	EventType       string         `json:"event_type"`
	EventAction     string         `json:"event_action"`
	ResourceType    string         `json:"resource_type"`
	ResourceID      string         `json:"resource_id,omitempty"`
	ResourceName    string         `json:"resource_name,omitempty"`
	InputsRedacted  map[string]any `json:"inputs_redacted,omitempty"`
	OutputsRedacted map[string]any `json:"outputs_redacted,omitempty"`
	Status          string         `json:"status"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	RequestID       string         `json:"request_id,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	TraceID         string         `json:"trace_id,omitempty"`
	SpanID          string         `json:"span_id,omitempty"`
	Metadata        RecordMetadata `json:"metadata"`
}

// ToolExecution describes one tool call to be audited.
type ToolExecution struct {
	Tool       string
	Operation  string
	Inputs     map[string]any
	Outputs    map[string]any
	Success    bool
	UserID     string
	AgentID    string
	Provider   string
	Cost       *float64
	DurationMs *float64
	Error      string
	RequestID  string
	SessionID  string
}

// actorFailures tracks the consecutive-failure streak of one actor.
type actorFailures struct {
	count int
	last  time.Time
}

// Config tunes the audit logger.
type Config struct {
	Retention RetentionPolicy `mapstructure:"retention"`
}

// Logger appends audit records with mandatory PII redaction and
// write-time suspicious pattern detection.
type Logger struct {
	mu      sync.Mutex
	records []Record
	actors  *lru.Cache[string, actorFailures]
	config  Config
	logger  observability.Logger
	metrics observability.MetricsClient
	now     func() time.Time
}

// NewLogger creates an audit logger. Retention defaults to 90 days.
func NewLogger(config Config, logger observability.Logger, metrics observability.MetricsClient) (*Logger, error) {
	if config.Retention == "" {
		config.Retention = Retention90Days
	}
	actors, err := lru.New[string, actorFailures](actorTrackerCapacity)
	if err != nil {
		return nil, err
	}
	return &Logger{
		actors:  actors,
		config:  config,
		logger:  logger.WithPrefix("audit"),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// LogToolExecution appends one record. Inputs and outputs are redacted
// before they touch the record; the raw maps are never stored.
func (l *Logger) LogToolExecution(ctx context.Context, exec ToolExecution) Record {
	inputs, inputsHit := RedactMap(exec.Inputs)
	outputs, outputsHit := RedactMap(exec.Outputs)
	errMsg, errHit := RedactString(exec.Error)
	piiDetected := inputsHit || outputsHit || errHit

	status := "success"
	if !exec.Success {
		status = "failure"
	}

	record := Record{
		LogID:           uuid.New().String(),
		Timestamp:       l.now().UTC(),
		EventType:       "tool_execution",
		EventAction:     exec.Operation,
		ResourceType:    "tool",
		ResourceID:      exec.Tool,
		ResourceName:    exec.Tool,
		InputsRedacted:  inputs,
		OutputsRedacted: outputs,
		Status:          status,
		ErrorMessage:    errMsg,
		RequestID:       exec.RequestID,
		SessionID:       exec.SessionID,
		Metadata: RecordMetadata{
			Cost:        exec.Cost,
			DurationMs:  exec.DurationMs,
			Provider:    exec.Provider,
			PIIDetected: piiDetected,
			PIIRedacted: piiDetected,
		},
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.TraceID = sc.TraceID().String()
		record.SpanID = sc.SpanID().String()
	}

	record.Metadata.SuspiciousPatterns = l.detectSuspicious(exec, record.Timestamp)

	l.mu.Lock()
	l.records = append(l.records, record)
	l.mu.Unlock()

	l.metrics.RecordCounter("audit_records_total", 1, map[string]string{
		"status":     status,
		"suspicious": boolLabel(len(record.Metadata.SuspiciousPatterns) > 0),
	})
	if len(record.Metadata.SuspiciousPatterns) > 0 {
		l.logger.Warn("suspicious tool execution", map[string]interface{}{
			"log_id":   record.LogID,
			"tool":     exec.Tool,
			"patterns": strings.Join(record.Metadata.SuspiciousPatterns, ","),
		})
	}
	return record
}

// detectSuspicious evaluates write-time rules: a cost spike above one
// dollar, and five or more rapid consecutive failures by one actor.
func (l *Logger) detectSuspicious(exec ToolExecution, at time.Time) []string {
	var patterns []string
	if exec.Cost != nil && *exec.Cost > highCostThreshold {
		patterns = append(patterns, PatternHighCost)
	}

	actor := exec.UserID
	if actor == "" {
		actor = exec.AgentID
	}
	if actor == "" {
		return patterns
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if exec.Success {
		l.actors.Remove(actor)
		return patterns
	}

	state, _ := l.actors.Get(actor)
	if state.count > 0 && at.Sub(state.last) > rapidFailureWindow {
		state.count = 0
	}
	state.count++
	state.last = at
	l.actors.Add(actor, state)

	if state.count >= rapidFailureCount {
		patterns = append(patterns, PatternRapidFailures)
	}
	return patterns
}

// Records returns a copy of all retained records.
func (l *Logger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Cleanup removes records older than the retention cutoff and returns
// how many were removed. Indefinite retention removes nothing.
func (l *Logger) Cleanup() int {
	maxAge := l.config.Retention.Duration()
	if maxAge == 0 {
		return 0
	}
	cutoff := l.now().UTC().Add(-maxAge)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.records[:0]
	removed := 0
	for _, r := range l.records {
		if r.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	l.records = kept

	if removed > 0 {
		l.logger.Info("audit cleanup", map[string]interface{}{
			"removed":   removed,
			"retention": string(l.config.Retention),
		})
	}
	return removed
}

// ExportJSON writes all retained records as a JSON array.
func (l *Logger) ExportJSON(w io.Writer) error {
	records := l.Records()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// csvHeader is the flat column layout of CSV exports.
var csvHeader = []string{
	"log_id", "timestamp", "event_type", "event_action",
	"resource_type", "resource_id", "status", "error_message",
	"request_id", "session_id", "trace_id", "cost", "duration_ms",
	"provider", "pii_redacted", "suspicious_patterns",
}

// ExportCSV writes all retained records as CSV. Nested inputs and
// outputs are omitted from the flat layout.
func (l *Logger) ExportCSV(w io.Writer) error {
	records := l.Records()

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		cost, duration := "", ""
		if r.Metadata.Cost != nil {
			cost = fmt.Sprintf("%.6f", *r.Metadata.Cost)
		}
		if r.Metadata.DurationMs != nil {
			duration = fmt.Sprintf("%.1f", *r.Metadata.DurationMs)
		}
		row := []string{
			r.LogID,
			r.Timestamp.Format(time.RFC3339),
			r.EventType,
			r.EventAction,
			r.ResourceType,
			r.ResourceID,
			r.Status,
			r.ErrorMessage,
			r.RequestID,
			r.SessionID,
			r.TraceID,
			cost,
			duration,
			r.Metadata.Provider,
			boolLabel(r.Metadata.PIIRedacted),
			strings.Join(r.Metadata.SuspiciousPatterns, ";"),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
