package router

import (
	"strings"

	orcherrors "github.com/developer-mesh/orchestration-core/pkg/errors"
	"github.com/developer-mesh/orchestration-core/pkg/models"
)

// ErrNonComparableOutputs signals that voting consensus cannot apply:
// no output value is shared by a strict majority of the successful
// responses, so there is nothing to vote on.
var ErrNonComparableOutputs = orcherrors.New(orcherrors.KindUnknown, "parallel outputs are not comparable for voting")

// ParallelResponse is one model's answer from a parallel fan-out. The
// caller runs the fan-out; the resolver only collapses the set.
type ParallelResponse struct {
	ModelID string
	Output  string
	Quality float64
	Success bool
	Error   string
}

// ResolveConsensus collapses parallel responses to a single winner
// using the given strategy. judgeChoice is the model id the judge
// picked; it is consulted only for the judge strategy.
func ResolveConsensus(strategy models.ConsensusStrategy, responses []ParallelResponse, judgeChoice string) (ParallelResponse, error) {
	successful := make([]ParallelResponse, 0, len(responses))
	for _, r := range responses {
		if r.Success {
			successful = append(successful, r)
		}
	}
	if len(successful) == 0 {
		return ParallelResponse{}, orcherrors.New(orcherrors.KindProviderFailure, "no successful parallel responses")
	}

	switch strategy {
	case models.ConsensusJudge:
		for _, r := range successful {
			if r.ModelID == judgeChoice {
				return r, nil
			}
		}
		// Judge picked a failed or unknown model; fall back to quality.
		return bestQuality(successful), nil

	case models.ConsensusQualityWeighted:
		return bestQuality(successful), nil

	case models.ConsensusVoting:
		return resolveVoting(successful)

	case models.ConsensusFirstSuccess:
		return successful[0], nil

	default:
		return ParallelResponse{}, orcherrors.Newf(orcherrors.KindUnknown, "unknown consensus strategy %q", strategy)
	}
}

// resolveVoting returns the response whose output a strict majority of
// successful responders agree on. Free-form outputs with no majority
// are non-comparable.
func resolveVoting(responses []ParallelResponse) (ParallelResponse, error) {
	counts := make(map[string]int, len(responses))
	for _, r := range responses {
		counts[normalizeOutput(r.Output)]++
	}

	for _, r := range responses {
		if counts[normalizeOutput(r.Output)]*2 > len(responses) {
			return r, nil
		}
	}
	return ParallelResponse{}, ErrNonComparableOutputs
}

func bestQuality(responses []ParallelResponse) ParallelResponse {
	best := responses[0]
	for _, r := range responses[1:] {
		if r.Quality > best.Quality {
			best = r
		}
	}
	return best
}

func normalizeOutput(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
