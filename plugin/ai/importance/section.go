// Package importance splits markdown context into sections and scores them
// into importance buckets, optionally weighted by a persona.
package importance

import (
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/hrygo/contextkit/plugin/ai/persona"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Section is a heading and the lines up to the next top-level heading.
// The text before the first heading is a section with Level 0 and no header.
type Section struct {
	Header     string              `json:"header,omitempty"`
	HeaderLine string              `json:"-"`
	Level      int                 `json:"level"`
	Lines      []string            `json:"-"`
	Kind       persona.ContentKind `json:"kind"`
	Importance Level               `json:"importance"`
	Score      float64             `json:"score"`
}

// Body returns the section body.
func (s Section) Body() string {
	return strings.Join(s.Lines, "\n")
}

// Text returns the header line followed by the body.
func (s Section) Text() string {
	if s.HeaderLine == "" {
		return s.Body()
	}
	if len(s.Lines) == 0 {
		return s.HeaderLine
	}
	return s.HeaderLine + "\n" + s.Body()
}

// Parse splits markdown into sections on document-level headings.
// Headings inside code blocks, lists or quotes do not split.
// Render(Parse(src)) == src.
func Parse(src string) []Section {
	if src == "" {
		return nil
	}
	source := []byte(src)
	lines := strings.Split(src, "\n")
	starts := lineStarts(src)

	type marker struct {
		first, last int // header line range, inclusive
		level       int
		title       string
	}
	var marks []marker

	doc := markdown.Parser().Parse(text.NewReader(source))
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		segs := h.Lines()
		first := lineOf(starts, segs.At(0).Start)
		last := lineOf(starts, segs.At(segs.Len()-1).Start)
		if !isATX(lines[first]) && last+1 < len(lines) {
			last++ // setext underline
		}

		var title strings.Builder
		for i := 0; i < segs.Len(); i++ {
			if i > 0 {
				title.WriteByte(' ')
			}
			seg := segs.At(i)
			title.Write(seg.Value(source))
		}
		marks = append(marks, marker{first: first, last: last, level: h.Level, title: strings.TrimSpace(title.String())})
	}

	var out []Section
	pre := len(lines)
	if len(marks) > 0 {
		pre = marks[0].first
	}
	if pre > 0 {
		out = append(out, Section{Lines: clone(lines[:pre]), Kind: persona.KindGeneral})
	}
	for i, m := range marks {
		end := len(lines)
		if i+1 < len(marks) {
			end = marks[i+1].first
		}
		out = append(out, Section{
			Header:     m.title,
			HeaderLine: strings.Join(lines[m.first:m.last+1], "\n"),
			Level:      m.level,
			Lines:      clone(lines[m.last+1 : end]),
			Kind:       persona.KindGeneral,
		})
	}
	return out
}

// Render joins sections back into markdown.
func Render(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, s.Text())
	}
	return strings.Join(parts, "\n")
}

func isATX(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " "), "#")
}

func lineStarts(s string) []int {
	starts := []int{0}
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func lineOf(starts []int, offset int) int {
	return sort.Search(len(starts), func(i int) bool { return starts[i] > offset }) - 1
}

func clone(lines []string) []string {
	out := make([]string, len(lines))
	copy(out, lines)
	return out
}
