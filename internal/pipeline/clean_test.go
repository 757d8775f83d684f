package pipeline

import (
	"strings"
	"testing"
)

func TestCleanDocumentStripsMarkup(t *testing.T) {
	raw := []byte(`<html><head><script>alert(1)</script><style>p{}</style></head>
<body><!-- nav --><p>합병 결정 공시</p><div>비율은 1:0.5</div></body></html>`)
	got := CleanDocument(raw)
	if strings.Contains(got, "alert") || strings.Contains(got, "p{}") || strings.Contains(got, "<") {
		t.Fatalf("markup leaked: %q", got)
	}
	if !strings.Contains(got, "합병 결정 공시") || !strings.Contains(got, "비율은 1:0.5") {
		t.Fatalf("content lost: %q", got)
	}
}

func TestCleanDocumentJoinsTableCells(t *testing.T) {
	raw := []byte(`<table>
<tr><th>항목</th><th>내용</th></tr>
<tr><td>합병비율</td><td>1 : 0.1405379</td></tr>
</table>`)
	got := CleanDocument(raw)
	if !strings.Contains(got, "항목 | 내용") {
		t.Fatalf("header row not pipe-joined: %q", got)
	}
	if !strings.Contains(got, "합병비율 | 1 : 0.1405379") {
		t.Fatalf("data row not pipe-joined: %q", got)
	}
}

func TestCleanDocumentDecodesEntitiesAndCollapsesWhitespace(t *testing.T) {
	raw := []byte("<p>A&nbsp;&amp;&nbsp;B</p>\n\n\n<p>   next    line   </p>")
	got := CleanDocument(raw)
	if !strings.Contains(got, "A & B") {
		t.Fatalf("entities not decoded: %q", got)
	}
	if strings.Contains(got, "  ") || strings.Contains(got, "\n\n") {
		t.Fatalf("whitespace not collapsed: %q", got)
	}
}

func TestTruncateForPromptRuneSafe(t *testing.T) {
	text := strings.Repeat("합", 100)
	got := TruncateForPrompt(text, 10)
	if got != strings.Repeat("합", 10) {
		t.Fatalf("truncation broke runes: %q", got)
	}
	if TruncateForPrompt("short", 100) != "short" {
		t.Fatal("short text must pass through")
	}
	if TruncateForPrompt("anything", 0) != "anything" {
		t.Fatal("zero budget disables truncation")
	}
}
