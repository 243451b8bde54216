package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsIngestor/internal/domain"
	"NewsIngestor/internal/ports"
)

// MobileHTMLScanner scrapes a source's mobile page directly. It exists as a
// fallback for sources the provider cannot serve; the markup it understands
// is the basic-mobile article layout.
type MobileHTMLScanner struct {
	client *http.Client
}

// NewMobileHTMLScanner wires an HTTP client; a default with a generous
// timeout is used when nil is passed.
func NewMobileHTMLScanner(client *http.Client) *MobileHTMLScanner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &MobileHTMLScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (m *MobileHTMLScanner) Name() string {
	return "mobile-html"
}

// Fetch downloads the source page and extracts its visible posts. The mobile
// layout carries no pagination cursor we can rely on, so only the first page
// is scanned regardless of MaxPages.
func (m *MobileHTMLScanner) Fetch(ctx context.Context, req ports.SourceRequest) ([]domain.ScrapedPost, error) {
	doc, err := m.fetchDocument(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url %s: %w", req.URL, err)
	}

	var results []domain.ScrapedPost
	doc.Find("div[role=article], article").Each(func(i int, sel *goquery.Selection) {
		post := extractPost(sel, base)
		if post.Permalink == "" {
			return
		}
		if req.IsKnownDuplicate != nil && req.IsKnownDuplicate(post.Permalink) {
			return
		}
		results = append(results, post)
	})

	return results, nil
}

func (m *MobileHTMLScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 11) NewsIngestor/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func extractPost(sel *goquery.Selection, base *url.URL) domain.ScrapedPost {
	var post domain.ScrapedPost

	link := sel.Find(`a[href*="story"], a[href*="/posts/"]`).First()
	if href, ok := link.Attr("href"); ok {
		post.Permalink = absoluteURL(base, href)
	}

	text := strings.TrimSpace(sel.Find("p").Text())
	if text == "" {
		text = strings.TrimSpace(sel.Text())
	}
	post.Text = text
	post.Title = titleFromText(text)

	sel.Find("img").Each(func(i int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" || strings.Contains(src, "emoji") {
			return
		}
		post.ImageURLs = append(post.ImageURLs, absoluteURL(base, src))
	})

	if video, ok := sel.Find("a[href*=\"/video\"]").First().Attr("href"); ok {
		post.HasVideo = true
		post.VideoURL = absoluteURL(base, video)
	}

	post.PublishedAt = time.Now().UTC()
	if abbr := strings.TrimSpace(sel.Find("abbr").First().Text()); abbr != "" {
		if parsed, err := time.Parse("January 2, 2006 at 3:04 PM", abbr); err == nil {
			post.PublishedAt = parsed.UTC()
		}
	}

	return post
}

func absoluteURL(base *url.URL, href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(parsed).String()
}
