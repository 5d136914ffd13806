package context

import (
	"sort"

	"github.com/hrygo/contextkit/plugin/ai/importance"
	"github.com/hrygo/contextkit/plugin/ai/tokens"
)

// ContextPriority represents the priority level of a context segment.
type ContextPriority int

const (
	PriorityPreamble ContextPriority = 100 // Text before the first heading
	PriorityCritical ContextPriority = 90
	PriorityHigh     ContextPriority = 70
	PriorityMedium   ContextPriority = 50
	PriorityLow      ContextPriority = 30
	// PriorityPatternBonus is added to sections matching an overlay priority pattern.
	PriorityPatternBonus ContextPriority = 15
)

// PriorityOf maps an importance level to a segment priority.
func PriorityOf(l importance.Level) ContextPriority {
	switch l {
	case importance.Critical:
		return PriorityCritical
	case importance.High:
		return PriorityHigh
	case importance.Medium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ContextSegment represents a piece of context with priority.
type ContextSegment struct {
	Content   string
	Priority  ContextPriority
	TokenCost int
	Order     int // position in the source document
}

// PriorityRanker ranks and truncates context segments by priority.
type PriorityRanker struct {
	estimator *tokens.Estimator
}

// NewPriorityRanker creates a new priority ranker.
func NewPriorityRanker(estimator *tokens.Estimator) *PriorityRanker {
	if estimator == nil {
		estimator = tokens.NewEstimator()
	}
	return &PriorityRanker{estimator: estimator}
}

// RankAndTruncate keeps the highest-priority segments that fit budget,
// truncating the first one that does not fit if at least MinSegmentTokens
// remain. Kept segments are returned in document order.
func (r *PriorityRanker) RankAndTruncate(segments []*ContextSegment, budget int) []*ContextSegment {
	if len(segments) == 0 {
		return nil
	}

	sorted := make([]*ContextSegment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	var result []*ContextSegment
	usedTokens := 0

	for _, seg := range sorted {
		if seg.TokenCost <= 0 {
			continue
		}

		if usedTokens+seg.TokenCost <= budget {
			result = append(result, seg)
			usedTokens += seg.TokenCost
			continue
		}

		remaining := budget - usedTokens
		if remaining >= MinSegmentTokens {
			if truncated := r.truncateToTokens(seg.Content, remaining); truncated != "" {
				cost := SegmentCost(r.estimator, truncated)
				result = append(result, &ContextSegment{
					Content:   truncated,
					Priority:  seg.Priority,
					TokenCost: cost,
					Order:     seg.Order,
				})
				usedTokens += cost
			}
		}
		break
	}

	sort.SliceStable(result, func(i, j int) bool { return result[i].Order < result[j].Order })
	return result
}

// truncateToTokens returns the longest line-aligned prefix of content whose
// estimate, with the truncation marker, is within maxTokens. A single
// oversized first line is cut by runes.
func (r *PriorityRanker) truncateToTokens(content string, maxTokens int) string {
	const marker = "\n…"
	if maxTokens <= 0 {
		return ""
	}
	if SegmentCost(r.estimator, content) <= maxTokens {
		return content
	}

	runes := []rune(content)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if SegmentCost(r.estimator, string(runes[:mid])+marker) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return ""
	}
	cut := string(runes[:lo])
	for i := len(cut) - 1; i > 0; i-- {
		if cut[i] == '\n' {
			cut = cut[:i]
			break
		}
	}
	return cut + marker
}

// SegmentCost is the estimate of content followed by the newline that joins
// it to the next segment. The costs of joined segments add up to at least
// the estimate of the joined text.
func SegmentCost(e *tokens.Estimator, content string) int {
	return e.EstimateText(content + "\n")
}
