package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

func newTestLogger(t *testing.T, retention RetentionPolicy) *Logger {
	t.Helper()
	l, err := NewLogger(Config{Retention: retention},
		observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	require.NoError(t, err)
	return l
}

func TestRedactString(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		want     string
		redacted bool
	}{
		{
			name:     "email",
			in:       "contact alice@example.com for access",
			want:     "contact " + MarkerEmail + " for access",
			redacted: true,
		},
		{
			name:     "phone",
			in:       "call 555-123-4567 now",
			want:     "call " + MarkerPhone + " now",
			redacted: true,
		},
		{
			name:     "ssn",
			in:       "ssn is 123-45-6789",
			want:     "ssn is " + MarkerSSN,
			redacted: true,
		},
		{
			name:     "credit card sixteen digits",
			in:       "card 4111 1111 1111 1111 on file",
			want:     "card " + MarkerCard + " on file",
			redacted: true,
		},
		{
			name:     "credit card fifteen digits",
			in:       "amex 3782-822463-10005 works",
			want:     "amex " + MarkerCard + " works",
			redacted: true,
		},
		{
			name:     "api key",
			in:       "api_key: sk-abc123def456",
			want:     MarkerSecret,
			redacted: true,
		},
		{
			name:     "bearer token",
			in:       "Bearer eyJhbGciOiJIUzI1NiJ9",
			want:     MarkerSecret,
			redacted: true,
		},
		{
			name: "clean text untouched",
			in:   "deployed service to production",
			want: "deployed service to production",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, redacted := RedactString(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.redacted, redacted)
		})
	}
}

func TestRedactValueRecursesNestedShapes(t *testing.T) {
	in := map[string]any{
		"user": map[string]any{
			"email":   "bob@example.com",
			"api_key": "sk-live-abcdef",
		},
		"notes": []any{
			"reach me at carol@example.com",
			map[string]any{"phone": "call 555-123-4567"},
		},
		"count": 7,
	}

	out, redacted := RedactValue(in)
	require.True(t, redacted)

	m := out.(map[string]any)
	user := m["user"].(map[string]any)
	assert.Equal(t, MarkerEmail, user["email"])
	assert.Equal(t, MarkerSecret, user["api_key"])

	notes := m["notes"].([]any)
	assert.Equal(t, "reach me at "+MarkerEmail, notes[0])
	assert.Equal(t, "call "+MarkerPhone, notes[1].(map[string]any)["phone"])
	assert.Equal(t, 7, m["count"])

	// Original input is not mutated.
	assert.Equal(t, "bob@example.com", in["user"].(map[string]any)["email"])
}

func TestLogToolExecutionNeverPersistsPII(t *testing.T) {
	l := newTestLogger(t, Retention90Days)

	record := l.LogToolExecution(context.Background(), ToolExecution{
		Tool:      "github",
		Operation: "create_pr",
		Inputs: map[string]any{
			"reviewer": "dave@example.com",
			"token":    "ghp_secretvalue123",
		},
		Outputs: map[string]any{"url": "https://github.com/org/repo/pull/1"},
		Success: true,
		UserID:  "u1",
	})

	assert.NotEmpty(t, record.LogID)
	assert.True(t, record.Metadata.PIIDetected)
	assert.True(t, record.Metadata.PIIRedacted)

	// Nothing that reaches a sink contains the raw values.
	serialized, err := json.Marshal(l.Records())
	require.NoError(t, err)
	assert.NotContains(t, string(serialized), "dave@example.com")
	assert.NotContains(t, string(serialized), "ghp_secretvalue123")
	assert.Contains(t, string(serialized), MarkerEmail)
}

func TestLogToolExecutionHighCostFlagged(t *testing.T) {
	l := newTestLogger(t, Retention90Days)

	cost := 1.50
	record := l.LogToolExecution(context.Background(), ToolExecution{
		Tool: "model_invoke", Operation: "complete", Success: true, Cost: &cost,
	})
	assert.Contains(t, record.Metadata.SuspiciousPatterns, PatternHighCost)

	cheap := 0.02
	record = l.LogToolExecution(context.Background(), ToolExecution{
		Tool: "model_invoke", Operation: "complete", Success: true, Cost: &cheap,
	})
	assert.Empty(t, record.Metadata.SuspiciousPatterns)
}

func TestLogToolExecutionRapidFailuresFlagged(t *testing.T) {
	l := newTestLogger(t, Retention90Days)

	var last Record
	for i := 0; i < 5; i++ {
		last = l.LogToolExecution(context.Background(), ToolExecution{
			Tool: "shell", Operation: "run", Success: false, UserID: "mallory", Error: "exit 1",
		})
	}
	assert.Contains(t, last.Metadata.SuspiciousPatterns, PatternRapidFailures)

	// A success resets the streak.
	l.LogToolExecution(context.Background(), ToolExecution{
		Tool: "shell", Operation: "run", Success: true, UserID: "mallory",
	})
	next := l.LogToolExecution(context.Background(), ToolExecution{
		Tool: "shell", Operation: "run", Success: false, UserID: "mallory", Error: "exit 1",
	})
	assert.Empty(t, next.Metadata.SuspiciousPatterns)
}

func TestRapidFailuresArePerActor(t *testing.T) {
	l := newTestLogger(t, Retention90Days)

	for i := 0; i < 4; i++ {
		l.LogToolExecution(context.Background(), ToolExecution{
			Tool: "shell", Operation: "run", Success: false, UserID: "alice",
		})
	}
	record := l.LogToolExecution(context.Background(), ToolExecution{
		Tool: "shell", Operation: "run", Success: false, UserID: "bob",
	})
	assert.Empty(t, record.Metadata.SuspiciousPatterns)
}

func TestCleanupRemovesExpiredRecords(t *testing.T) {
	l := newTestLogger(t, Retention7Days)

	l.LogToolExecution(context.Background(), ToolExecution{Tool: "a", Operation: "op", Success: true})
	l.LogToolExecution(context.Background(), ToolExecution{Tool: "b", Operation: "op", Success: true})

	// Age the first record past the cutoff.
	l.mu.Lock()
	l.records[0].Timestamp = time.Now().UTC().Add(-8 * 24 * time.Hour)
	l.mu.Unlock()

	removed := l.Cleanup()
	assert.Equal(t, 1, removed)
	require.Len(t, l.Records(), 1)
	assert.Equal(t, "b", l.Records()[0].ResourceID)
}

func TestCleanupIndefiniteRetentionKeepsAll(t *testing.T) {
	l := newTestLogger(t, RetentionIndefinite)

	l.LogToolExecution(context.Background(), ToolExecution{Tool: "a", Operation: "op", Success: true})
	l.mu.Lock()
	l.records[0].Timestamp = time.Now().UTC().Add(-10 * 365 * 24 * time.Hour)
	l.mu.Unlock()

	assert.Zero(t, l.Cleanup())
	assert.Len(t, l.Records(), 1)
}

func TestExportJSON(t *testing.T) {
	l := newTestLogger(t, Retention90Days)
	l.LogToolExecution(context.Background(), ToolExecution{
		Tool: "github", Operation: "create_pr", Success: true, RequestID: "req-1",
	})

	var buf bytes.Buffer
	require.NoError(t, l.ExportJSON(&buf))

	var records []Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "github", records[0].ResourceID)
	assert.Equal(t, "req-1", records[0].RequestID)
}

func TestExportCSV(t *testing.T) {
	l := newTestLogger(t, Retention90Days)
	cost := 0.42
	l.LogToolExecution(context.Background(), ToolExecution{
		Tool: "github", Operation: "create_pr", Success: false, Cost: &cost, Error: "merge conflict",
	})

	var buf bytes.Buffer
	require.NoError(t, l.ExportCSV(&buf))

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "github", rows[1][5]) // resource_id column
	assert.Equal(t, "failure", rows[1][6])
	assert.Equal(t, "0.420000", rows[1][11])
}
