package ingest

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"
	"golang.org/x/net/html"
)

const (
	DefaultHTTPTimeout = 30 * time.Second
	defaultUserAgent   = "Mozilla/5.0 (compatible; ragchat-ingest/1.0)"

	contentSelector = "#mw-content-text"
	noiseSelector   = "table, script, style, sup"
)

// Scraper downloads HTML pages and extracts their readable text.
type Scraper struct {
	client    *http.Client
	userAgent string
}

func NewScraper(client *http.Client) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Scraper{client: client, userAgent: defaultUserAgent}
}

func (s *Scraper) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrapf(err, "build request for %s", url)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "fetch %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("fetch %s: unexpected status %s", url, resp.Status)
	}
	return ExtractText(resp.Body)
}

// ExtractText returns the text of the main article region (the Wikipedia content div, or
// the body when that is absent) with tables, scripts, styles and footnote markers removed.
// Text nodes are trimmed and joined by newlines.
func ExtractText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", errors.Wrap(err, "parse html")
	}

	content := doc.Find(contentSelector).First()
	if content.Length() == 0 {
		content = doc.Find("body").First()
	}
	content.Find(noiseSelector).Remove()

	var lines []string
	for _, node := range content.Nodes {
		collectText(node, &lines)
	}
	return strings.Join(lines, "\n"), nil
}

func collectText(n *html.Node, lines *[]string) {
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			*lines = append(*lines, text)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, lines)
	}
}
