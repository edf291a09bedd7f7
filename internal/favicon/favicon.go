// Package favicon locates and downloads site icons so account entries
// can show a recognizable logo. All network work is bounded: failures
// degrade to "no favicon", they never fail the owning request.
package favicon

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxFetchSize caps a downloaded icon at 1 MiB.
	MaxFetchSize = 1 << 20

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	pageTimeout  = 10 * time.Second
	probeTimeout = 5 * time.Second
)

// Well-known locations tried when the page markup names no icon,
// ordered by preference.
var fallbackPaths = []string{
	"/favicon.ico",
	"/favicon.png",
	"/apple-touch-icon.png",
	"/apple-touch-icon-precomposed.png",
	"/static/favicon.ico",
	"/assets/favicon.ico",
}

var iconRels = map[string]bool{
	"icon":                         true,
	"shortcut icon":                true,
	"apple-touch-icon":             true,
	"apple-touch-icon-precomposed": true,
}

// Fetcher downloads favicons with separate clients for page fetches
// and existence probes.
type Fetcher struct {
	pageClient  *http.Client
	probeClient *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		pageClient:  &http.Client{Timeout: pageTimeout},
		probeClient: &http.Client{Timeout: probeTimeout},
	}
}

// Fetch resolves the favicon for a site URL and downloads it. It
// returns (nil, "") when no usable icon is found; it never returns an
// error to the caller.
func (f *Fetcher) Fetch(ctx context.Context, siteURL string) ([]byte, string) {
	base, err := normalizeBase(siteURL)
	if err != nil {
		return nil, ""
	}

	iconURL := f.fromHTML(ctx, base)
	if iconURL == "" {
		iconURL = f.probeKnownPaths(ctx, base)
	}
	if iconURL == "" {
		return nil, ""
	}

	return f.download(ctx, iconURL)
}

// normalizeBase reduces a site URL to scheme://host, assuming https
// when no scheme was given.
func normalizeBase(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// fromHTML fetches the page and walks its markup for a link rel icon.
func (f *Fetcher) fromHTML(ctx context.Context, base *url.URL) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.pageClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, MaxFetchSize))
	if err != nil {
		return ""
	}

	href := findIconLink(doc)
	if href == "" {
		return ""
	}
	resolved := resolveHref(base, href)
	if resolved == "" || !f.exists(ctx, resolved) {
		return ""
	}
	return resolved
}

func findIconLink(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "link" {
		var rel, href string
		for _, attr := range n.Attr {
			switch strings.ToLower(attr.Key) {
			case "rel":
				rel = strings.ToLower(strings.TrimSpace(attr.Val))
			case "href":
				href = strings.TrimSpace(attr.Val)
			}
		}
		if iconRels[rel] && href != "" {
			return href
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findIconLink(c); found != "" {
			return found
		}
	}
	return ""
}

func resolveHref(base *url.URL, href string) string {
	if strings.HasPrefix(href, "//") {
		href = base.Scheme + ":" + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// probeKnownPaths checks the fallback locations concurrently and
// returns the first (in preference order) that answers 200.
func (f *Fetcher) probeKnownPaths(ctx context.Context, base *url.URL) string {
	hits := make([]bool, len(fallbackPaths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range fallbackPaths {
		g.Go(func() error {
			hits[i] = f.exists(ctx, base.String()+path)
			return nil
		})
	}
	_ = g.Wait()

	for i, hit := range hits {
		if hit {
			return base.String() + fallbackPaths[i]
		}
	}
	return ""
}

func (f *Fetcher) exists(ctx context.Context, rawURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.probeClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// download fetches the icon bytes, enforcing the size cap and that the
// payload is actually an image.
func (f *Fetcher) download(ctx context.Context, iconURL string) ([]byte, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL, nil)
	if err != nil {
		return nil, ""
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.pageClient.Do(req)
	if err != nil {
		return nil, ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ""
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchSize+1))
	if err != nil || len(data) == 0 || len(data) > MaxFetchSize {
		return nil, ""
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, ""
	}
	return data, contentType
}
