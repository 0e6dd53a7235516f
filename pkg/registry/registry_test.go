package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orcherrors "github.com/developer-mesh/orchestration-core/pkg/errors"
	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

const validCatalog = `
models:
  - id: claude-sonnet
    provider: anthropic
    capabilities: [reasoning, code, tools]
    cost_per_1k_input: 0.003
    cost_per_1k_output: 0.015
    context_window: 200000
    quality_score: 0.92
    supports_streaming: true
    enabled: true
  - id: gpt-mini
    provider: openai
    capabilities: [code, tools]
    cost_per_1k_input: 0.00015
    cost_per_1k_output: 0.0006
    context_window: 128000
    quality_score: 0.78
    enabled: true
task_preferences:
  code_generation:
    preferred: [gpt-mini, claude-sonnet]
`

func newRegistry(t *testing.T, doc string) *Registry {
	t.Helper()
	r := New(observability.NewNoopLogger())
	require.NoError(t, r.LoadFromBytes([]byte(doc), "yaml"))
	return r
}

func TestLoadFromBytesAndLookups(t *testing.T) {
	r := newRegistry(t, validCatalog)
	snap := r.Snapshot()
	require.NotNil(t, snap)

	assert.Len(t, snap.Models(), 2)
	assert.Equal(t, "claude-sonnet", snap.Models()[0].ID)

	m := snap.Model("gpt-mini")
	require.NotNil(t, m)
	assert.Equal(t, models.ProviderOpenAI, m.Provider)
	assert.Nil(t, snap.Model("unknown"))

	assert.True(t, snap.IsPreferred(models.TaskCodeGeneration, "gpt-mini"))
	assert.False(t, snap.IsPreferred(models.TaskCodeGeneration, "nonexistent"))
	assert.False(t, snap.IsPreferred(models.TaskReasoning, "gpt-mini"))

	providers := snap.Providers()
	assert.Equal(t, []string{"claude-sonnet"}, providers[models.ProviderAnthropic])
	assert.Equal(t, []string{"gpt-mini"}, providers[models.ProviderOpenAI])
}

func TestLoadRejectsEmptyCatalog(t *testing.T) {
	r := New(observability.NewNoopLogger())
	err := r.LoadFromBytes([]byte("models: []"), "yaml")
	require.Error(t, err)
	assert.Equal(t, orcherrors.KindConfig, orcherrors.KindOf(err))
	assert.Nil(t, r.Snapshot())
}

func TestLoadRejectsDuplicateModelID(t *testing.T) {
	doc := `
models:
  - id: same
    provider: anthropic
    cost_per_1k_input: 0.001
    cost_per_1k_output: 0.002
    context_window: 1000
    quality_score: 0.5
    enabled: true
  - id: same
    provider: openai
    cost_per_1k_input: 0.001
    cost_per_1k_output: 0.002
    context_window: 1000
    quality_score: 0.5
    enabled: true
`
	err := New(observability.NewNoopLogger()).LoadFromBytes([]byte(doc), "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate model id")
}

func TestLoadRejectsUnknownPreferredModel(t *testing.T) {
	doc := validCatalog + `
  reasoning:
    preferred: [never-heard-of-it]
`
	err := New(observability.NewNoopLogger()).LoadFromBytes([]byte(doc), "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
}

func TestLoadRejectsValidationFailure(t *testing.T) {
	doc := `
models:
  - id: broken
    provider: anthropic
    cost_per_1k_input: -1
    cost_per_1k_output: 0.002
    context_window: 1000
    quality_score: 0.5
    enabled: true
`
	err := New(observability.NewNoopLogger()).LoadFromBytes([]byte(doc), "yaml")
	require.Error(t, err)
	assert.Equal(t, orcherrors.KindConfig, orcherrors.KindOf(err))
}

func TestLoadFailureKeepsPreviousSnapshot(t *testing.T) {
	r := newRegistry(t, validCatalog)
	before := r.Snapshot()

	require.Error(t, r.LoadFromBytes([]byte("models: []"), "yaml"))
	assert.Same(t, before, r.Snapshot())
}

func TestReloadSwapsSnapshotAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validCatalog), 0o600))

	r := New(observability.NewNoopLogger())
	require.NoError(t, r.Load(path))
	held := r.Snapshot()

	updated := `
models:
  - id: claude-sonnet
    provider: anthropic
    cost_per_1k_input: 0.003
    cost_per_1k_output: 0.015
    context_window: 200000
    quality_score: 0.95
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	require.NoError(t, r.Reload())

	// The held snapshot is untouched; the current one sees the update.
	assert.Len(t, held.Models(), 2)
	assert.InDelta(t, 0.92, held.Model("claude-sonnet").QualityScore, 1e-9)

	current := r.Snapshot()
	assert.Len(t, current.Models(), 1)
	assert.InDelta(t, 0.95, current.Model("claude-sonnet").QualityScore, 1e-9)
	assert.Greater(t, current.Version, held.Version)
}

func TestReloadWithoutPathErrors(t *testing.T) {
	r := newRegistry(t, validCatalog)
	assert.Error(t, r.Reload())
}
