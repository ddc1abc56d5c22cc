// Package textstats computes deterministic text metrics used for
// requirements compliance checks and result reporting.
package textstats

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/plumeworks/plume/internal/models"
)

// WordsPerPage is the estimate used to convert word counts into pages.
const WordsPerPage = 250

// Words counts whitespace-separated tokens.
func Words(text string) int {
	return len(strings.Fields(text))
}

// Characters counts unicode characters, optionally excluding spaces.
func Characters(text string, includeSpaces bool) int {
	if !includeSpaces {
		text = strings.ReplaceAll(text, " ", "")
	}
	return utf8.RuneCountInString(text)
}

// Lines counts lines. A trailing newline does not add an empty line.
func Lines(text string) int {
	if text == "" {
		return 0
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Count(text, "\n") + 1
}

// Paragraphs counts non-empty blocks separated by blank lines.
func Paragraphs(text string) int {
	n := 0
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n
}

// EstimatePages converts the word count into pages, rounded to two decimals.
func EstimatePages(text string) float64 {
	return math.Round(float64(Words(text))/WordsPerPage*100) / 100
}

// Compute returns the full statistics record for a text.
func Compute(text string) models.TextStats {
	return models.TextStats{
		WordCount:              Words(text),
		CharacterCount:         Characters(text, true),
		CharacterCountNoSpaces: Characters(text, false),
		ParagraphCount:         Paragraphs(text),
		LineCount:              Lines(text),
		EstimatedPages:         EstimatePages(text),
	}
}
