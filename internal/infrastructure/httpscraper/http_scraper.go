// Package httpscraper implements the declarative HTTP scraper variant: a
// list page and its detail pages walked with per-source CSS selectors.
package httpscraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/scraper"
)

// TypeTag identifies this variant inside the scraper registry.
const TypeTag = "http"

// Parameter keys understood by this variant. Values are CSS selector
// expressions or URLs, pure data validated at construction.
const (
	paramListURL         = "list_url"
	paramListSelector    = "list_selector"
	paramTitleSelector   = "title_selector"
	paramURLSelector     = "url_selector"
	paramContentSelector = "content_selector"
	paramDateSelector    = "date_selector"
)

var requiredParams = []string{
	paramListSelector,
	paramTitleSelector,
	paramURLSelector,
	paramContentSelector,
}

const defaultTimeout = 30 * time.Second

// HTTPScraper fetches a source's list page, selects candidate entries, and
// resolves each entry's detail page for content.
type HTTPScraper struct {
	sourceName string
	baseURL    string
	params     map[string]string
	client     *http.Client
	logger     *slog.Logger
}

var _ scraper.Scraper = (*HTTPScraper)(nil)

// New validates the selector configuration and wires an HTTP client.
func New(source domain.Source, client *http.Client, logger *slog.Logger) (*HTTPScraper, error) {
	for _, key := range requiredParams {
		if strings.TrimSpace(source.Params[key]) == "" {
			return nil, fmt.Errorf("source %s: missing required scraper param %q", source.Name, key)
		}
	}

	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &HTTPScraper{
		sourceName: source.Name,
		baseURL:    strings.TrimSuffix(source.URL, "/"),
		params:     source.Params,
		client:     client,
		logger:     logger,
	}, nil
}

// Scrape fetches the list page and walks at most limit entries in document
// order. Failures on a single entry are logged and skipped; the batch
// continues.
func (s *HTTPScraper) Scrape(ctx context.Context, limit int) ([]domain.ScrapedItem, error) {
	doc, err := s.fetchDocument(ctx, s.listURL())
	if err != nil {
		return nil, err
	}

	items := make([]domain.ScrapedItem, 0, limit)
	visited := 0
	doc.Find(s.params[paramListSelector]).EachWithBreak(func(i int, entry *goquery.Selection) bool {
		if limit > 0 && visited >= limit {
			return false
		}
		visited++

		item, entryErr := s.parseListEntry(ctx, entry)
		if entryErr != nil {
			s.logger.Warn("skip list entry",
				"source", s.sourceName, "index", i, "error", entryErr)
			return true
		}

		items = append(items, item)
		return true
	})

	s.logger.Info("scraped list page",
		"source", s.sourceName, "visited", visited, "items", len(items))
	return items, nil
}

// TestConnection reduces a single fetch of the list URL to a boolean.
func (s *HTTPScraper) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.listURL(), nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections held by the HTTP client.
func (s *HTTPScraper) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPScraper) listURL() string {
	if u := s.params[paramListURL]; u != "" {
		return u
	}
	return s.baseURL
}

func (s *HTTPScraper) parseListEntry(ctx context.Context, entry *goquery.Selection) (domain.ScrapedItem, error) {
	var item domain.ScrapedItem

	title := strings.TrimSpace(entry.Find(s.params[paramTitleSelector]).First().Text())
	if title == "" {
		return item, fmt.Errorf("no title matched selector %q", s.params[paramTitleSelector])
	}

	href, ok := entry.Find(s.params[paramURLSelector]).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return item, fmt.Errorf("no link matched selector %q", s.params[paramURLSelector])
	}
	detailURL := s.resolveURL(strings.TrimSpace(href))

	content, rawHTML, err := s.fetchDetail(ctx, detailURL)
	if err != nil {
		return item, fmt.Errorf("detail %s: %w", detailURL, err)
	}

	var publishedAt *time.Time
	if sel := s.params[paramDateSelector]; sel != "" {
		if text := strings.TrimSpace(entry.Find(sel).First().Text()); text != "" {
			if parsed, parseErr := dateparse.ParseAny(text); parseErr == nil {
				publishedAt = &parsed
			}
		}
	}

	item = domain.ScrapedItem{
		Title:       title,
		Content:     content,
		URL:         detailURL,
		PublishedAt: publishedAt,
		RawHTML:     rawHTML,
	}
	return item, nil
}

// resolveURL turns an entry link into an absolute URL: pass through links
// that already carry a scheme, prefix root-relative paths with the source
// origin, and join anything else as a relative path under the origin.
func (s *HTTPScraper) resolveURL(href string) string {
	switch {
	case strings.HasPrefix(href, "http"):
		return href
	case strings.HasPrefix(href, "/"):
		return s.baseURL + href
	default:
		return s.baseURL + "/" + href
	}
}

func (s *HTTPScraper) fetchDetail(ctx context.Context, detailURL string) (content, rawHTML string, err error) {
	doc, err := s.fetchDocument(ctx, detailURL)
	if err != nil {
		return "", "", err
	}

	matched := doc.Find(s.params[paramContentSelector]).First()
	if matched.Length() > 0 {
		content = strings.TrimSpace(matched.Text())
		rawHTML, _ = goquery.OuterHtml(matched)
		return content, rawHTML, nil
	}

	// Selector matched nothing: fall back to the page's visible text.
	doc.Find("script, style").Remove()
	content = strings.TrimSpace(doc.Find("body").Text())
	rawHTML, _ = doc.Html()
	return content, rawHTML, nil
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

func (s *HTTPScraper) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &scraper.ConnectionError{URL: pageURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &scraper.ConnectionError{URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &scraper.ConnectionError{URL: pageURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &scraper.ParseError{URL: pageURL, Err: err}
	}

	return doc, nil
}
