package importance

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Level is an importance bucket.
type Level int

const (
	Low Level = iota
	Medium
	High
	Critical
)

func (l Level) String() string {
	switch l {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

// MarshalJSON encodes the level as its name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "critical":
		return Critical, nil
	case "high":
		return High, nil
	case "medium":
		return Medium, nil
	case "low":
		return Low, nil
	}
	return Low, fmt.Errorf("unknown importance level %q", s)
}

// Bucket weights applied per keyword match.
var bucketWeight = map[Level]float64{
	Critical: 4,
	High:     3,
	Medium:   2,
	Low:      1,
}

// Thresholds map a score to a bucket. Score >= Critical is critical, and so on.
type Thresholds struct {
	Critical float64
	High     float64
	Medium   float64
}

// DefaultThresholds returns the standard bucket cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 8, High: 5, Medium: 3}
}

// Bucket maps a score to a level.
func (t Thresholds) Bucket(score float64) Level {
	switch {
	case score >= t.Critical:
		return Critical
	case score >= t.High:
		return High
	case score >= t.Medium:
		return Medium
	default:
		return Low
	}
}

// KeywordRule adds its bucket weight for every match in a section.
type KeywordRule struct {
	Pattern string
	Bucket  Level
}

// HeaderRule adjusts the score of sections whose header matches.
type HeaderRule struct {
	Pattern string
	Delta   float64
}

// Table is the data-driven rule set of the classifier.
type Table struct {
	Keywords   []KeywordRule
	Headers    []HeaderRule
	Thresholds Thresholds
}

// DefaultTable returns the generic, persona-agnostic rules.
func DefaultTable() *Table {
	return &Table{
		Keywords: []KeywordRule{
			{`\b(critical|must|required|mandatory|blocker|breaking)\b`, Critical},
			{`\b(security|vulnerab\w*|secret|credentials?)\b`, Critical},
			{`\b(important|should|shall|error|exception|fail\w*|bug|warning|deadline)\b`, High},
			{`\b(api|interface|contract|invariant|constraint)s?\b`, High},
			{`\b(note|todo|fixme|consider|example|performance|config\w*)\b`, Medium},
			{`\b(optional|nice to have|maybe|minor|fyi|misc\w*|trivia)\b`, Low},
		},
		Headers: []HeaderRule{
			{`\b(requirements?|acceptance criteria)\b`, 4},
			{`\b(security|breaking changes?|constraints?)\b`, 3},
			{`\b(api|overview|summary|architecture|errors?|current task)\b`, 2},
			{`\b(usage|setup|install\w*|configuration)\b`, 1},
			{`\b(changelog|history|appendix|license|acknowledg\w*|credits)\b`, -1},
		},
		Thresholds: DefaultThresholds(),
	}
}

var patternCache sync.Map // string -> *regexp.Regexp (nil when invalid)

// compile returns the case-insensitive regexp for pattern, or nil if it does
// not compile. Results are memoized.
func compile(pattern string) *regexp.Regexp {
	if v, ok := patternCache.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = nil
	}
	patternCache.Store(pattern, re)
	return re
}

// phrase returns a word-bounded pattern for a literal phrase.
func phrase(s string) string {
	return `\b` + regexp.QuoteMeta(strings.TrimSpace(s)) + `\b`
}
