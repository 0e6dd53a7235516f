package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/orchestration-core/pkg/models"
)

func TestResolveConsensusJudge(t *testing.T) {
	responses := []ParallelResponse{
		{ModelID: "a", Output: "plan A", Quality: 0.9, Success: true},
		{ModelID: "b", Output: "plan B", Quality: 0.95, Success: true},
	}

	winner, err := ResolveConsensus(models.ConsensusJudge, responses, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", winner.ModelID)

	// Judge pointing at a failed model falls back to quality.
	winner, err = ResolveConsensus(models.ConsensusJudge, responses, "missing")
	require.NoError(t, err)
	assert.Equal(t, "b", winner.ModelID)
}

func TestResolveConsensusQualityWeighted(t *testing.T) {
	winner, err := ResolveConsensus(models.ConsensusQualityWeighted, []ParallelResponse{
		{ModelID: "a", Quality: 0.8, Success: true},
		{ModelID: "b", Quality: 0.95, Success: true},
		{ModelID: "c", Quality: 0.9, Success: true},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "b", winner.ModelID)
}

func TestResolveConsensusVotingMajority(t *testing.T) {
	winner, err := ResolveConsensus(models.ConsensusVoting, []ParallelResponse{
		{ModelID: "a", Output: "42", Success: true},
		{ModelID: "b", Output: " 42 ", Success: true},
		{ModelID: "c", Output: "7", Success: true},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "a", winner.ModelID)
}

func TestResolveConsensusVotingNonComparable(t *testing.T) {
	_, err := ResolveConsensus(models.ConsensusVoting, []ParallelResponse{
		{ModelID: "a", Output: "one answer", Success: true},
		{ModelID: "b", Output: "another answer", Success: true},
		{ModelID: "c", Output: "a third answer", Success: true},
	}, "")
	assert.ErrorIs(t, err, ErrNonComparableOutputs)
}

func TestResolveConsensusFirstSuccess(t *testing.T) {
	winner, err := ResolveConsensus(models.ConsensusFirstSuccess, []ParallelResponse{
		{ModelID: "a", Success: false, Error: "timeout"},
		{ModelID: "b", Success: true},
		{ModelID: "c", Success: true},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "b", winner.ModelID)
}

func TestResolveConsensusNoSuccesses(t *testing.T) {
	_, err := ResolveConsensus(models.ConsensusFirstSuccess, []ParallelResponse{
		{ModelID: "a", Success: false, Error: "timeout"},
	}, "")
	assert.Error(t, err)
}
