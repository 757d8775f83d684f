package pipeline

import (
	"regexp"
	"strings"
)

// Disclosure bodies arrive as DART's XML dialect or viewer HTML. Cleaning
// strips markup while keeping table rows readable as pipe-joined lines.

var (
	scriptRe   = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	commentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	rowOpenRe  = regexp.MustCompile(`(?i)<tr[^>]*>`)
	cellRe     = regexp.MustCompile(`(?i)</t[dh]>`)
	blockEndRe = regexp.MustCompile(`(?i)</(tr|p|div|table|title|h[1-6]|li|section)>|<br\s*/?>`)
	tagRe      = regexp.MustCompile(`(?s)<[^>]+>`)
	entityRe   = regexp.MustCompile(`&[a-zA-Z#0-9]+;`)
	spaceRe    = regexp.MustCompile(`[ \t\x{00a0}]+`)
	blankRe    = regexp.MustCompile(`\n{2,}`)
)

var entities = map[string]string{
	"&nbsp;": " ", "&amp;": "&", "&lt;": "<", "&gt;": ">",
	"&quot;": `"`, "&#39;": "'", "&middot;": "·",
}

// CleanDocument turns raw markup into plain text. Table cells within a row
// are joined with " | " so numeric disclosures stay line-oriented.
func CleanDocument(raw []byte) string {
	s := string(raw)
	s = scriptRe.ReplaceAllString(s, " ")
	s = commentRe.ReplaceAllString(s, " ")
	s = rowOpenRe.ReplaceAllString(s, "\n")
	s = cellRe.ReplaceAllString(s, " | ")
	s = blockEndRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, " ")
	s = entityRe.ReplaceAllStringFunc(s, func(e string) string {
		if r, ok := entities[e]; ok {
			return r
		}
		return " "
	})

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
		line = strings.Trim(line, "| ")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	cleaned := strings.Join(out, "\n")
	return strings.TrimSpace(blankRe.ReplaceAllString(cleaned, "\n"))
}

// TruncateForPrompt bounds text to max runes on a rune boundary.
func TruncateForPrompt(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
