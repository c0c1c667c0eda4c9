package markup

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var commentPattern = regexp.MustCompile(`<!--[\s\S]*?-->`)

var scriptPattern = regexp.MustCompile(`(?i)<script[^>]*>[\s\S]*?</script>`)

// placeholderTags lists the elements swapped out, in replacement order.
var placeholderTags = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"svg", regexp.MustCompile(`(?i)<svg[^>]*>[\s\S]*?</svg>`)},
	{"script", scriptPattern},
	{"style", regexp.MustCompile(`(?i)<style[^>]*>[\s\S]*?</style>`)},
	{"meta", regexp.MustCompile(`(?i)<meta[^>]*>`)},
	{"link", regexp.MustCompile(`(?i)<link[^>]*>`)},
}

// Processed is markup in placeholder form plus the table needed to restore it.
type Processed struct {
	Markup       string
	Replacements map[string]string
}

// Process strips comments and replaces heavy elements with placeholders of
// the form __scN__ (first two letters of the tag, counter starting at 1).
func Process(html string) Processed {
	out := commentPattern.ReplaceAllString(html, "")
	replacements := make(map[string]string)

	for _, tag := range placeholderTags {
		n := 0
		out = tag.pattern.ReplaceAllStringFunc(out, func(match string) string {
			n++
			placeholder := fmt.Sprintf("__%s%d__", tag.name[:2], n)
			replacements[placeholder] = match
			return placeholder
		})
	}
	return Processed{Markup: out, Replacements: replacements}
}

// Restore puts the original elements back in place of their placeholders.
// Longer placeholders are replaced first so __sc1__ never clobbers __sc10__.
func Restore(processed string, replacements map[string]string) string {
	if len(replacements) == 0 {
		return processed
	}
	keys := make([]string, 0, len(replacements))
	for k := range replacements {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, replacements[k])
	}
	return strings.NewReplacer(pairs...).Replace(processed)
}

// PreserveScripts reattaches scripts the merge introduced that did not survive
// restoration. Scripts found in merged are checked first; when merged carries
// none, scripts are taken straight from the raw edits. Missing scripts are
// inserted before </body>.
func PreserveScripts(restored, merged, edits string, replacements map[string]string) string {
	known := make(map[string]bool, len(replacements))
	for _, v := range replacements {
		known[v] = true
	}

	candidates := scriptPattern.FindAllString(merged, -1)
	fromEdits := false
	if len(candidates) == 0 {
		candidates = scriptPattern.FindAllString(edits, -1)
		fromEdits = true
	}

	out := restored
	for _, script := range candidates {
		if strings.Contains(out, script) {
			continue
		}
		if !fromEdits && known[script] {
			continue
		}
		out = insertBeforeBodyEnd(out, script)
	}
	return out
}

func insertBeforeBodyEnd(html, snippet string) string {
	idx := strings.LastIndex(strings.ToLower(html), "</body>")
	if idx < 0 {
		return html + snippet + "\n"
	}
	return html[:idx] + snippet + "\n" + html[idx:]
}
