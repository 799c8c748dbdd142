package pipeline

import (
	"context"

	"github.com/ralphline/ralphline/pkg/models"
)

// fusionOutcome is the testing phase's verdict: the winning verifier's
// answer, the aggregate confidence behind it, and whether that confidence
// clears the pipeline's configured threshold.
type fusionOutcome struct {
	WinnerIndex int
	Answer      string
	Confidence  float64
	Passed      bool
}

// fuse implements §4.3's four best-of-N strategies over whatever verifier
// results came back within T_verify_max. Every strategy ties toward the
// lowest-indexed verifier (launch order), and the final Passed bit always
// also requires confidence >= threshold regardless of which strategy won.
func fuse(ctx context.Context, strategy models.VerificationStrategy, results []*VerifierResult, threshold float64, ranker MetaRanker) fusionOutcome {
	if len(results) == 0 {
		return fusionOutcome{Confidence: 0, Passed: false}
	}

	var out fusionOutcome
	switch strategy {
	case models.StrategyWeighted:
		out = fuseWeighted(results)
	case models.StrategyFirst:
		out = fuseFirst(results)
	case models.StrategyMeta:
		out = fuseMeta(ctx, results, ranker)
	default:
		out = fuseMajority(results)
	}
	out.Passed = out.Confidence >= threshold
	return out
}

// fuseMajority picks the modal answer; confidence is its share of the
// total. Ties break toward the lowest-indexed verifier holding the modal
// answer.
func fuseMajority(results []*VerifierResult) fusionOutcome {
	counts := make(map[string]int)
	firstIndex := make(map[string]int)
	for _, r := range results {
		counts[r.Answer]++
		if _, ok := firstIndex[r.Answer]; !ok {
			firstIndex[r.Answer] = r.Index
		}
	}

	var winner string
	winnerCount := -1
	winnerFirst := -1
	for answer, count := range counts {
		idx := firstIndex[answer]
		if count > winnerCount || (count == winnerCount && idx < winnerFirst) {
			winner = answer
			winnerCount = count
			winnerFirst = idx
		}
	}

	return fusionOutcome{
		WinnerIndex: winnerFirst,
		Answer:      winner,
		Confidence:  float64(winnerCount) / float64(len(results)),
	}
}

// fuseWeighted sums self-reported confidence per distinct answer and picks
// the max; aggregate confidence is that sum over the sum of all confidence.
func fuseWeighted(results []*VerifierResult) fusionOutcome {
	sums := make(map[string]float64)
	firstIndex := make(map[string]int)
	var total float64
	for _, r := range results {
		sums[r.Answer] += r.Confidence
		total += r.Confidence
		if _, ok := firstIndex[r.Answer]; !ok {
			firstIndex[r.Answer] = r.Index
		}
	}
	if total == 0 {
		return fuseMajority(results)
	}

	var winner string
	winnerSum := -1.0
	winnerFirst := -1
	for answer, sum := range sums {
		idx := firstIndex[answer]
		if sum > winnerSum || (sum == winnerSum && idx < winnerFirst) {
			winner = answer
			winnerSum = sum
			winnerFirst = idx
		}
	}

	return fusionOutcome{
		WinnerIndex: winnerFirst,
		Answer:      winner,
		Confidence:  winnerSum / total,
	}
}

// fuseFirst takes the first verifier (by launch order) whose auto-validation
// command passed, with confidence 1.0; falling back to majority over the
// rest when none passed.
func fuseFirst(results []*VerifierResult) fusionOutcome {
	var best *VerifierResult
	for _, r := range results {
		if r.Passed && (best == nil || r.Index < best.Index) {
			best = r
		}
	}
	if best != nil {
		return fusionOutcome{WinnerIndex: best.Index, Answer: best.Answer, Confidence: 1.0}
	}
	return fuseMajority(results)
}

// fuseMeta defers the ranking decision to the meta-agent, which reads every
// transcript and returns a winner and its own stated confidence. A missing
// ranker falls back to majority, matching the "meta-agent unavailable"
// degraded mode.
func fuseMeta(ctx context.Context, results []*VerifierResult, ranker MetaRanker) fusionOutcome {
	if ranker == nil {
		return fuseMajority(results)
	}
	winnerIndex, confidence, err := ranker.Rank(ctx, results)
	if err != nil {
		return fuseMajority(results)
	}
	for _, r := range results {
		if r.Index == winnerIndex {
			return fusionOutcome{WinnerIndex: winnerIndex, Answer: r.Answer, Confidence: confidence}
		}
	}
	return fuseMajority(results)
}
