package rag

import (
	"regexp"
	"strings"
)

var (
	spaceRun       = regexp.MustCompile(`[\x{3000}\s]+`)
	punctuationRun = regexp.MustCompile(`[。，“”,、！？!?.；;:：()（）\-]+`)
)

// Normalize strips punctuation and whitespace noise from transcribed text so
// it can be used as a retrieval key. When nothing is left the raw input is
// returned unchanged.
func Normalize(s string) string {
	out := spaceRun.ReplaceAllString(s, " ")
	out = punctuationRun.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)
	if out == "" {
		return s
	}
	return out
}
