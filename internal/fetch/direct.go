package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// maxPageBytes caps the plaintext kept per fetched page.
const maxPageBytes = 10 * 1024

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DirectFetcher fetches HTML via net/http, detects blocks, and converts to
// plaintext. Free, no API calls. Falls through to Firecrawl when blocked.
type DirectFetcher struct {
	client *http.Client
}

// NewDirectFetcher creates a DirectFetcher with the given per-request timeout.
func NewDirectFetcher(timeout time.Duration) *DirectFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DirectFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: timeout,
				}).DialContext,
				TLSHandshakeTimeout: timeout,
			},
		},
	}
}

func (d *DirectFetcher) Name() string { return "direct_http" }

// Fetch fetches a URL, detects blocks, strips HTML to plaintext, and caps
// the result at maxPageBytes.
func (d *DirectFetcher) Fetch(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "direct_http: create request")
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "direct_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, eris.Wrap(err, "direct_http: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Wrapf(ErrBlocked, "direct_http: %s", blockType)
	}

	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("direct_http: status %d", resp.StatusCode)
	}

	if len(body) < 100 {
		return nil, eris.New("direct_http: empty page")
	}

	text := Truncate(StripHTML(string(body)), maxPageBytes)

	return &Result{
		Page: Page{
			URL:        targetURL,
			Title:      extractTitle(body),
			Text:       text,
			StatusCode: resp.StatusCode,
		},
		Source: "direct_http",
	}, nil
}

var titleRe = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)

// extractTitle pulls the <title> from HTML.
func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}

// StripHTML removes scripts/styles/nav/footer, strips tags, decodes entities,
// and collapses whitespace. The result is plaintext suitable for extraction.
func StripHTML(html string) string {
	// Remove script, style, nav, footer blocks entirely.
	for _, tag := range []string{"script", "style", "nav", "footer"} {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = re.ReplaceAllString(html, "")
	}

	// Strip remaining HTML tags.
	tagRe := regexp.MustCompile(`<[^>]+>`)
	html = tagRe.ReplaceAllString(html, " ")

	// Decode common HTML entities.
	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	html = r.Replace(html)

	// Collapse whitespace.
	spaceRe := regexp.MustCompile(`[ \t]+`)
	html = spaceRe.ReplaceAllString(html, " ")

	nlRe := regexp.MustCompile(`\n{3,}`)
	html = nlRe.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}

// Truncate cuts s to at most n bytes without splitting a word mid-way when a
// space is available near the cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut
}
