package fetch

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// maxSiteBytes caps the combined plaintext kept per site.
const maxSiteBytes = 20 * 1024

// priorityPaths are the site sections most likely to hold personalization
// material, in descending priority order.
var priorityPaths = []string{
	"/about",
	"/about-us",
	"/clients",
	"/case-studies",
	"/portfolio",
	"/work",
	"/services",
	"/products",
}

// SiteContent is the combined plaintext for one company website.
type SiteContent struct {
	Domain string
	Text   string
	Pages  []string // URLs actually fetched, homepage first
}

// SiteFetcher fetches a company website: the homepage plus at most one
// priority section page, combined text capped at maxSiteBytes.
type SiteFetcher struct {
	fetcher  Fetcher
	maxPages int
}

// NewSiteFetcher creates a SiteFetcher. maxPages counts the homepage; a value
// below 1 means homepage only.
func NewSiteFetcher(fetcher Fetcher, maxPages int) *SiteFetcher {
	if maxPages < 1 {
		maxPages = 1
	}
	return &SiteFetcher{fetcher: fetcher, maxPages: maxPages}
}

// FetchSite fetches the homepage for rawURL and, if budget remains, probes
// the priority paths in order until one more page succeeds. Probe misses are
// expected (most sites have only a couple of these sections) and are not
// errors.
func (s *SiteFetcher) FetchSite(ctx context.Context, rawURL string) (*SiteContent, error) {
	base, err := normalizeBase(rawURL)
	if err != nil {
		return nil, err
	}

	home, err := s.fetcher.Fetch(ctx, base.String())
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: homepage %s", base.Host)
	}

	content := &SiteContent{
		Domain: base.Host,
		Text:   home.Page.Text,
		Pages:  []string{home.Page.URL},
	}

	if s.maxPages >= 2 && len(content.Text) < maxSiteBytes {
		for _, p := range priorityPaths {
			target := base.ResolveReference(&url.URL{Path: p}).String()
			extra, err := s.fetcher.Fetch(ctx, target)
			if err != nil {
				zap.L().Debug("fetch: priority path miss",
					zap.String("url", target),
					zap.Error(err),
				)
				if ctx.Err() != nil {
					break
				}
				continue
			}
			content.Text += "\n\n" + extra.Page.Text
			content.Pages = append(content.Pages, extra.Page.URL)
			// One extra page is enough for a snippet.
			break
		}
	}

	content.Text = Truncate(content.Text, maxSiteBytes)
	return content, nil
}

// normalizeBase parses a website field into a homepage URL, defaulting the
// scheme to https when the record stores a bare domain.
func normalizeBase(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, eris.New("fetch: empty website")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("fetch: unparseable website %q", rawURL)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
