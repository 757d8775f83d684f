package dart

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
)

// Viewer renders a public DART viewer page headlessly and extracts its
// readable text. Last-resort source when neither a structured endpoint nor
// the document archive yields a body.
type Viewer struct {
	Timeout  time.Duration
	MaxChars int
}

func NewViewer(timeout time.Duration, maxChars int) *Viewer {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	if maxChars == 0 {
		maxChars = 50000
	}
	return &Viewer{Timeout: timeout, MaxChars: maxChars}
}

// FetchText renders the viewer page for rceptNo and returns its main text.
func (v *Viewer) FetchText(ctx context.Context, rceptNo string) (string, error) {
	pageURL := FilingRef{RceptNo: rceptNo}.ViewerURL()

	ctx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()

	html, err := renderHTML(ctx, pageURL)
	if err != nil {
		return "", err
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(pageURL))
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", errors.New("viewer page yielded no text")
	}
	return clipRunes(text, v.MaxChars), nil
}

// clipRunes bounds the text without splitting a multi-byte character.
func clipRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func renderHTML(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("dartdeep/1.0 (+disclosure research)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
