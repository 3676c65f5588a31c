package mrz

import (
	"strings"
	"unicode/utf8"
)

// SelectLines extracts the MRZ candidate lines from raw recognizer output.
// Spaces are removed, empty lines dropped and lines shorter than the
// integer mean length discarded. The filter is repeated until nothing more
// is removed, so feeding the result back in returns it unchanged.
// A nil result means no MRZ was found.
func SelectLines(text string) []string {
	text = strings.ReplaceAll(text, " ", "")
	text = strings.ReplaceAll(text, "\r", "")

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}

	for len(lines) > 0 {
		kept := filterShortLines(lines)
		if len(kept) == len(lines) {
			break
		}
		lines = kept
	}
	if len(lines) == 0 {
		return nil
	}
	return lines
}

func filterShortLines(lines []string) []string {
	total := 0
	for _, l := range lines {
		total += utf8.RuneCountInString(l)
	}
	average := total / len(lines)

	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if utf8.RuneCountInString(l) >= average {
			kept = append(kept, l)
		}
	}
	return kept
}
