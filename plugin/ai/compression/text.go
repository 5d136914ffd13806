package compression

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hrygo/contextkit/plugin/ai/importance"
)

// Marker is appended to shortened paragraphs.
const Marker = "[compressed]"

var (
	logStamp = regexp.MustCompile(`^\s*\[?(\d{4}-\d{2}-\d{2})[T ](\d{2}:\d{2}:\d{2})`)
	listItem = regexp.MustCompile(`^\s*([-*+]|\d+[.)])\s+`)
	spaces   = regexp.MustCompile(`\s+`)
)

// normalize unifies line endings, trims trailing whitespace, collapses runs
// of blank lines and trims blank lines at both ends.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// pruneLogs removes lines that start with a timestamp older than cutoff.
func pruneLogs(s string, cutoff time.Time) (string, int) {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	pruned := 0
	for _, line := range lines {
		if m := logStamp.FindStringSubmatch(line); m != nil {
			ts, err := time.Parse("2006-01-02 15:04:05", m[1]+" "+m[2])
			if err == nil && ts.Before(cutoff) {
				pruned++
				continue
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), pruned
}

func isFence(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~")
}

func lineKey(line string) string {
	return strings.ToLower(spaces.ReplaceAllString(strings.TrimSpace(line), " "))
}

// mergeHeaders folds sections with the same header into the first one.
func mergeHeaders(sections []importance.Section) ([]importance.Section, int) {
	out := make([]importance.Section, 0, len(sections))
	index := make(map[string]int)
	merged := 0
	for _, s := range sections {
		key := lineKey(s.Header)
		if key == "" {
			out = append(out, s)
			continue
		}
		if i, ok := index[key]; ok {
			out[i].Lines = append(out[i].Lines, s.Lines...)
			if s.Importance > out[i].Importance {
				out[i].Importance = s.Importance
			}
			merged++
			continue
		}
		index[key] = len(out)
		out = append(out, s)
	}
	return out, merged
}

// dedupeLines drops repeated lines outside code fences. With listOnly set
// only list items are considered.
func dedupeLines(sections []importance.Section, listOnly bool) int {
	seen := make(map[string]bool)
	removed := 0
	for i := range sections {
		inFence := false
		kept := sections[i].Lines[:0]
		for _, line := range sections[i].Lines {
			if isFence(line) {
				inFence = !inFence
				kept = append(kept, line)
				continue
			}
			if inFence || strings.TrimSpace(line) == "" || (listOnly && !listItem.MatchString(line)) {
				kept = append(kept, line)
				continue
			}
			key := lineKey(listItem.ReplaceAllString(line, ""))
			if seen[key] {
				removed++
				continue
			}
			seen[key] = true
			kept = append(kept, line)
		}
		sections[i].Lines = kept
	}
	return removed
}

// shortenParagraphs rewrites prose paragraphs longer than limit characters
// using collapse.
func shortenParagraphs(lines []string, limit int, collapse func([]string) []string) ([]string, int) {
	out := make([]string, 0, len(lines))
	var para []string
	shortened := 0

	flush := func() {
		if len(para) == 0 {
			return
		}
		text := strings.Join(para, " ")
		if utf8.RuneCountInString(text) > limit {
			out = append(out, shorten(text, limit, collapse))
			shortened++
		} else {
			out = append(out, para...)
		}
		para = para[:0]
	}

	inFence := false
	for _, line := range lines {
		switch {
		case isFence(line):
			flush()
			inFence = !inFence
			out = append(out, line)
		case inFence, !isProse(line):
			flush()
			out = append(out, line)
		default:
			para = append(para, strings.TrimSpace(line))
		}
	}
	flush()
	return out, shortened
}

func isProse(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" || listItem.MatchString(line) {
		return false
	}
	if strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t") {
		return false
	}
	switch t[0] {
	case '|', '>', '#', '<':
		return false
	}
	return true
}

func shorten(text string, limit int, collapse func([]string) []string) string {
	sentences := splitSentences(text)
	kept := strings.Join(collapse(sentences), " ")
	if len(kept) >= len(text) {
		kept = truncateWords(text, limit)
	}
	return kept + " " + Marker
}

// splitSentences splits on '.', '!' or '?' followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func firstTwo(sentences []string) []string {
	if len(sentences) > 2 {
		return sentences[:2]
	}
	return sentences
}

func firstAndLast(sentences []string) []string {
	if len(sentences) > 2 {
		return []string{sentences[0], sentences[len(sentences)-1]}
	}
	return sentences
}

// truncateWords cuts text to at most limit runes at a word boundary.
func truncateWords(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	cut := []rune(text)[:limit]
	s := string(cut)
	if i := strings.LastIndexAny(s, " \t"); i > limit/2 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
