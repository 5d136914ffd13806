// Package persona defines persona behaviour profiles and the catalogs that
// serve them.
package persona

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrNotFound is returned when a persona id is not in the catalog.
var ErrNotFound = errors.New("persona not found")

// ContentKind classifies a section of context content.
type ContentKind string

const (
	KindGeneral       ContentKind = "general"
	KindRequirements  ContentKind = "requirements"
	KindCode          ContentKind = "code"
	KindDocumentation ContentKind = "documentation"
	KindConfiguration ContentKind = "configuration"
	KindLogs          ContentKind = "logs"
	KindTests         ContentKind = "tests"
)

// DefaultKeywordWeight is the score a focus area adds when no explicit
// keyword weight is configured.
const DefaultKeywordWeight = 20.0

// DefaultPriority breaks score ties between personas. Earlier wins.
var DefaultPriority = []string{
	"security",
	"debugger",
	"analyzer",
	"architect",
	"performance",
	"backend",
	"frontend",
	"qa",
	"refactorer",
	"devops",
	"mentor",
	"scribe",
}

// PriorityRank returns the tie-break rank of id. Unknown ids rank last.
func PriorityRank(id string) int {
	if i := slices.Index(DefaultPriority, id); i >= 0 {
		return i
	}
	return len(DefaultPriority)
}

// Overlay holds the rules applied to base context when the persona is active.
type Overlay struct {
	PriorityPatterns  []string `yaml:"priority_patterns" json:"priority_patterns,omitempty"`
	ExclusionPatterns []string `yaml:"exclusion_patterns" json:"exclusion_patterns,omitempty"`
}

// Boost adds Weight to the persona's task score when the CEL expression
// When evaluates to true.
type Boost struct {
	When   string  `yaml:"when" json:"when"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// Persona is a named behaviour profile.
// Values handed out by a Catalog are copies; mutating them has no effect on
// the catalog.
type Persona struct {
	ID                 string                  `yaml:"id" json:"id"`
	Name               string                  `yaml:"name" json:"name"`
	Description        string                  `yaml:"description" json:"description,omitempty"`
	Version            string                  `yaml:"version" json:"version,omitempty"`
	FocusAreas         []string                `yaml:"focus_areas" json:"focus_areas,omitempty"`
	PreservePatterns   []string                `yaml:"preserve_patterns" json:"preserve_patterns,omitempty"`
	Keywords           map[string]float64      `yaml:"keywords" json:"keywords,omitempty"`
	CompressionWeights map[ContentKind]float64 `yaml:"compression_weights" json:"compression_weights,omitempty"`
	TokenAllocation    float64                 `yaml:"token_allocation" json:"token_allocation"`
	Overlay            Overlay                 `yaml:"overlay" json:"overlay"`
	Boosts             []Boost                 `yaml:"boosts" json:"boosts,omitempty"`
}

// Clone returns a deep copy.
func (p *Persona) Clone() *Persona {
	if p == nil {
		return nil
	}
	c := *p
	c.FocusAreas = slices.Clone(p.FocusAreas)
	c.PreservePatterns = slices.Clone(p.PreservePatterns)
	c.Keywords = maps.Clone(p.Keywords)
	c.CompressionWeights = maps.Clone(p.CompressionWeights)
	c.Overlay.PriorityPatterns = slices.Clone(p.Overlay.PriorityPatterns)
	c.Overlay.ExclusionPatterns = slices.Clone(p.Overlay.ExclusionPatterns)
	c.Boosts = slices.Clone(p.Boosts)
	return &c
}

// KeywordWeights returns the keyword table used for task scoring: explicit
// keywords plus focus areas at DefaultKeywordWeight.
func (p *Persona) KeywordWeights() map[string]float64 {
	out := make(map[string]float64, len(p.Keywords)+len(p.FocusAreas))
	for _, area := range p.FocusAreas {
		out[strings.ToLower(area)] = DefaultKeywordWeight
	}
	for k, w := range p.Keywords {
		out[strings.ToLower(k)] = w
	}
	return out
}

// Validate checks the persona definition.
func (p *Persona) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("persona id is required")
	}
	if p.TokenAllocation <= 0 || p.TokenAllocation > 1 {
		return fmt.Errorf("persona %s: token_allocation %v out of range (0,1]", p.ID, p.TokenAllocation)
	}
	if p.Version != "" && !semver.IsValid(canonicalVersion(p.Version)) {
		return fmt.Errorf("persona %s: invalid version %q", p.ID, p.Version)
	}
	for kind, w := range p.CompressionWeights {
		if w < 0 || w > 1 {
			return fmt.Errorf("persona %s: compression weight for %s out of range [0,1]", p.ID, kind)
		}
	}
	for kw, w := range p.Keywords {
		if w < 0 {
			return fmt.Errorf("persona %s: keyword %q has negative weight", p.ID, kw)
		}
	}
	for _, group := range [][]string{p.PreservePatterns, p.Overlay.PriorityPatterns, p.Overlay.ExclusionPatterns} {
		for _, pat := range group {
			if _, err := regexp.Compile(pat); err != nil {
				return fmt.Errorf("persona %s: invalid pattern %q: %w", p.ID, pat, err)
			}
		}
	}
	return nil
}

// canonicalVersion adds the "v" prefix semver expects.
func canonicalVersion(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// Newer reports whether version a is greater than version b.
// Invalid versions compare lower than valid ones.
func Newer(a, b string) bool {
	return semver.Compare(canonicalVersion(a), canonicalVersion(b)) > 0
}

// Catalog provides persona definitions.
type Catalog interface {
	// GetAll returns every persona ordered by id.
	GetAll(ctx context.Context) ([]*Persona, error)

	// Get returns the persona with id or ErrNotFound.
	Get(ctx context.Context, id string) (*Persona, error)
}
