package context

import "github.com/hrygo/contextkit/plugin/ai/persona"

// Default token budget values
const (
	DefaultMaxTokens = 8000
	MinSegmentTokens = 16
	// MaxFixedRatio caps the share of the budget taken by the uncompressed
	// overlay summary and task.
	MaxFixedRatio = 0.5
)

// TokenBudget represents the token allocation plan.
type TokenBudget struct {
	Total   int `json:"total"`   // MaxContextTokens × persona allocation
	Fixed   int `json:"fixed"`   // overlay summary and task
	Content int `json:"content"` // compressible project context
}

// BudgetAllocator allocates token budgets.
type BudgetAllocator struct {
	maxTokens int
}

// NewBudgetAllocator creates an allocator for maxTokens (default: 8000).
func NewBudgetAllocator(maxTokens int) *BudgetAllocator {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &BudgetAllocator{maxTokens: maxTokens}
}

// Allocate splits the persona's share of the context window between the
// fixed part and compressible content. fixedTokens beyond MaxFixedRatio of
// the total are still reported but do not reduce content below the rest.
func (a *BudgetAllocator) Allocate(p *persona.Persona, fixedTokens int) *TokenBudget {
	allocation := 1.0
	if p != nil && p.TokenAllocation > 0 && p.TokenAllocation <= 1 {
		allocation = p.TokenAllocation
	}
	total := int(float64(a.maxTokens) * allocation)

	reserved := min(fixedTokens, int(float64(total)*MaxFixedRatio))
	return &TokenBudget{
		Total:   total,
		Fixed:   fixedTokens,
		Content: max(0, total-reserved),
	}
}
