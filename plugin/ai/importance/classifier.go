package importance

import (
	"regexp"
	"strings"

	"github.com/hrygo/contextkit/plugin/ai/persona"
)

// Persona bonuses.
const (
	PreserveBonus = 3.0
	FocusBonus    = 2.0
	KindScale     = 4.0
)

// Classifier scores sections into importance buckets.
// It is stateless and safe for concurrent use.
type Classifier struct {
	table *Table
}

// NewClassifier creates a classifier. A nil table uses DefaultTable.
func NewClassifier(table *Table) *Classifier {
	if table == nil {
		table = DefaultTable()
	}
	return &Classifier{table: table}
}

// Classify returns copies of sections with Kind, Score and Importance set.
// p may be nil.
func (c *Classifier) Classify(sections []Section, p *persona.Persona) []Section {
	out := make([]Section, len(sections))
	for i, s := range sections {
		s.Lines = clone(s.Lines)
		s.Kind = DetectKind(s)
		s.Score = c.Score(s, p)
		s.Importance = c.table.Thresholds.Bucket(s.Score)
		out[i] = s
	}
	return out
}

// ClassifyText parses and classifies markdown.
func (c *Classifier) ClassifyText(src string, p *persona.Persona) []Section {
	return c.Classify(Parse(src), p)
}

// Score computes the raw score of a section. s.Kind must already be set for
// the persona kind weight to apply.
func (c *Classifier) Score(s Section, p *persona.Persona) float64 {
	content := s.Header + "\n" + s.Body()

	score := 0.0
	for _, rule := range c.table.Keywords {
		if re := compile(rule.Pattern); re != nil {
			score += float64(len(re.FindAllStringIndex(content, -1))) * bucketWeight[rule.Bucket]
		}
	}
	if s.Header != "" {
		for _, rule := range c.table.Headers {
			if re := compile(rule.Pattern); re != nil && re.MatchString(s.Header) {
				score += rule.Delta
			}
		}
	}
	if p != nil {
		score += personaBonus(content, s.Kind, p)
	}
	if score < 0 {
		score = 0
	}
	return score
}

func personaBonus(content string, kind persona.ContentKind, p *persona.Persona) float64 {
	bonus := 0.0
	for _, pat := range p.PreservePatterns {
		if re := compile(pat); re != nil && re.MatchString(content) {
			bonus += PreserveBonus
		}
	}
	for _, area := range p.FocusAreas {
		if re := compile(phrase(area)); re != nil && re.MatchString(content) {
			bonus += FocusBonus
		}
	}
	if w, ok := p.CompressionWeights[kind]; ok {
		bonus += (w - 0.5) * KindScale
	}
	return bonus
}

var (
	kindHeaders = []struct {
		kind persona.ContentKind
		re   *regexp.Regexp
	}{
		{persona.KindRequirements, regexp.MustCompile(`(?i)\b(requirements?|acceptance criteria|user stor(y|ies)|specification|current task)\b`)},
		{persona.KindTests, regexp.MustCompile(`(?i)\b(tests?|testing|coverage)\b`)},
		{persona.KindLogs, regexp.MustCompile(`(?i)\b(logs?|output|trace)\b`)},
		{persona.KindConfiguration, regexp.MustCompile(`(?i)\b(config\w*|settings|environment)\b`)},
		{persona.KindCode, regexp.MustCompile(`(?i)\b(code|implementation|source|snippet)\b`)},
		{persona.KindDocumentation, regexp.MustCompile(`(?i)\b(readme|docs?|documentation|guide|overview|usage)\b`)},
	}
	logLine   = regexp.MustCompile(`^\s*(\[?\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}|\[?(DEBUG|INFO|WARN|WARNING|ERROR|FATAL)\]?\b)`)
	testBody  = regexp.MustCompile(`\bfunc Test\w+\(|\b(describe|it)\(|\bassert\.|\bexpect\(`)
	configTag = regexp.MustCompile("^\\s*```(ya?ml|json|toml|ini|env)\\b")
)

// DetectKind guesses the content kind of a section from its header and body.
func DetectKind(s Section) persona.ContentKind {
	if s.Header != "" {
		for _, kh := range kindHeaders {
			if kh.re.MatchString(s.Header) {
				return kh.kind
			}
		}
	}

	var nonEmpty, logs, fences int
	configFence := false
	for _, line := range s.Lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		nonEmpty++
		if logLine.MatchString(line) {
			logs++
		}
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fences++
			if configTag.MatchString(line) {
				configFence = true
			}
		}
	}

	switch {
	case nonEmpty > 0 && logs*2 >= nonEmpty:
		return persona.KindLogs
	case testBody.MatchString(s.Body()):
		return persona.KindTests
	case configFence:
		return persona.KindConfiguration
	case fences >= 2:
		return persona.KindCode
	}
	return persona.KindGeneral
}
