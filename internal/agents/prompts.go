package agents

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/plumeworks/plume/internal/models"
)

// displayName renders a category constant for prompts, e.g. "cover_letter"
// becomes "Cover Letter".
func displayName(category string) string {
	words := strings.Split(category, "_")
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

func titleWord(w string) string {
	r := []rune(w)
	if len(r) == 0 {
		return w
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func formatKey(k string) string {
	return displayName(k)
}

// contextSection renders the request context as markdown key/value lines.
// Keys are sorted so prompts are stable across runs.
func contextSection(ctx map[string]interface{}) string {
	if len(ctx) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := ctx[k]
		if v == nil || v == "" {
			continue
		}
		fmt.Fprintf(&b, "**%s:** %v\n", formatKey(k), v)
	}
	return b.String()
}

// requirementsSection renders the writing-relevant constraints as bullets.
func requirementsSection(reqs models.Requirements) string {
	var b strings.Builder
	if reqs.MaxWords > 0 {
		fmt.Fprintf(&b, "- **Max Words:** %d\n", reqs.MaxWords)
	}
	if reqs.MinWords > 0 {
		fmt.Fprintf(&b, "- **Min Words:** %d\n", reqs.MinWords)
	}
	if reqs.MaxPages > 0 {
		fmt.Fprintf(&b, "- **Max Pages:** %d\n", reqs.MaxPages)
	}
	if reqs.Format != "" {
		fmt.Fprintf(&b, "- **Format:** %s\n", reqs.Format)
	}
	if reqs.Tone != "" {
		fmt.Fprintf(&b, "- **Tone:** %s\n", reqs.Tone)
	}
	if b.Len() == 0 {
		return "- No explicit constraints\n"
	}
	return b.String()
}

// researchSection renders accumulated research findings. String values print
// inline; list values print as bullets.
func researchSection(research map[string]interface{}) string {
	if len(research) == 0 {
		return ""
	}
	keys := make([]string, 0, len(research))
	for k := range research {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("\n# RESEARCH INSIGHTS\nUse the following research to inform the writing:\n")
	for _, k := range keys {
		switch v := research[k].(type) {
		case nil:
			continue
		case string:
			if v == "" {
				continue
			}
			fmt.Fprintf(&b, "\n**%s:**\n%s\n", formatKey(k), v)
		case []string:
			if len(v) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n**%s:**\n", formatKey(k))
			for _, item := range v {
				fmt.Fprintf(&b, "- %s\n", item)
			}
		case []interface{}:
			if len(v) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n**%s:**\n", formatKey(k))
			for _, item := range v {
				fmt.Fprintf(&b, "- %v\n", item)
			}
		default:
			fmt.Fprintf(&b, "\n**%s:** %v\n", formatKey(k), v)
		}
	}
	return b.String()
}
