package dispatch

import (
	"sort"
	"strings"
	"unicode"

	"github.com/hupe1980/verimesh/core"
)

// DefaultStopWords are dropped from task descriptions before matching.
var DefaultStopWords = []string{
	"a", "about", "all", "an", "and", "any", "are", "as", "at", "be", "by", "can", "do", "does",
	"each", "for", "from", "give", "has", "have", "how", "i", "if", "in", "into", "is", "it", "its",
	"make", "me", "my", "of", "on", "or", "our", "please", "should", "so", "some", "that", "the",
	"their", "them", "then", "there", "these", "this", "those", "to", "up", "us", "use", "using",
	"was", "we", "what", "when", "which", "who", "why", "will", "with", "would", "you", "your",
}

func stopSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

// Keywords splits text on anything that is not a letter or digit and returns
// the lower-cased words that are not stop words, in order of first
// appearance.
func Keywords(text string, stop map[string]struct{}) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		if _, skip := stop[w]; skip {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// requirementTags returns the sorted, de-duplicated requirement tags of task.
func requirementTags(task *core.Task, stop map[string]struct{}) []string {
	set := map[string]struct{}{}
	for _, r := range task.Requirements {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			set[r] = struct{}{}
		}
	}
	for _, w := range Keywords(task.Description, stop) {
		set[w] = struct{}{}
	}
	for _, name := range task.ToolNames() {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			set[name] = struct{}{}
		}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// overlap counts the tags found among capabilities.
func overlap(tags []string, capabilities map[string]struct{}) int {
	n := 0
	for _, t := range tags {
		if _, ok := capabilities[t]; ok {
			n++
		}
	}
	return n
}
