package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"NewsIngestor/internal/domain"
	"NewsIngestor/internal/ports"
)

const defaultKnownStopAfter = 3

// ProviderScanner pulls posts from the scraping provider's JSON API page by
// page, stopping early once several consecutive posts are already known.
type ProviderScanner struct {
	endpoint       string
	apiKey         string
	knownStopAfter int
	client         *http.Client
}

// providerPost mirrors the provider's wire format for a single post.
type providerPost struct {
	PostID     string   `json:"post_id"`
	Text       string   `json:"text"`
	Time       int64    `json:"time"`
	Image      string   `json:"image"`
	Images     []string `json:"images"`
	PostURL    string   `json:"post_url"`
	IsTextPost bool     `json:"is_text_post"`
	Location   string   `json:"location"`
	HasVideo   bool     `json:"has_video"`
	VideoURL   string   `json:"video_url"`
}

type providerPage struct {
	Posts   []providerPost `json:"posts"`
	HasMore bool           `json:"has_more"`
}

// NewProviderScanner wires the provider endpoint; a default HTTP client with
// a generous timeout is used when nil is passed.
func NewProviderScanner(endpoint, apiKey string, knownStopAfter int, client *http.Client) *ProviderScanner {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if knownStopAfter <= 0 {
		knownStopAfter = defaultKnownStopAfter
	}
	return &ProviderScanner{
		endpoint:       strings.TrimSuffix(endpoint, "/"),
		apiKey:         apiKey,
		knownStopAfter: knownStopAfter,
		client:         client,
	}
}

// Name identifies the strategy inside the registry.
func (p *ProviderScanner) Name() string {
	return "provider"
}

// Fetch walks provider pages for the source until MaxPages, the provider
// runs dry, or enough consecutive already-known posts are seen.
func (p *ProviderScanner) Fetch(ctx context.Context, req ports.SourceRequest) ([]domain.ScrapedPost, error) {
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	var (
		results          []domain.ScrapedPost
		consecutiveKnown int
	)

	for page := 1; page <= maxPages; page++ {
		pageData, err := p.fetchPage(ctx, req.URL, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		for _, raw := range pageData.Posts {
			post := toScrapedPost(raw)
			if post.Permalink == "" {
				continue
			}

			if req.IsKnownDuplicate != nil && req.IsKnownDuplicate(post.Permalink) {
				consecutiveKnown++
				if consecutiveKnown >= p.knownStopAfter {
					return results, nil
				}
				continue
			}
			consecutiveKnown = 0
			results = append(results, post)
		}

		if !pageData.HasMore {
			break
		}
	}

	return results, nil
}

func (p *ProviderScanner) fetchPage(ctx context.Context, sourceURL string, page int) (providerPage, error) {
	var result providerPage

	endpoint, err := url.Parse(p.endpoint + "/v1/posts")
	if err != nil {
		return result, fmt.Errorf("invalid provider endpoint: %w", err)
	}

	query := endpoint.Query()
	query.Set("source", sourceURL)
	query.Set("page", strconv.Itoa(page))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return result, fmt.Errorf("build request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return result, fmt.Errorf("request posts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return result, fmt.Errorf("provider returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("decode page: %w", err)
	}

	return result, nil
}

func toScrapedPost(raw providerPost) domain.ScrapedPost {
	images := raw.Images
	if len(images) == 0 && raw.Image != "" {
		images = []string{raw.Image}
	}

	return domain.ScrapedPost{
		Title:        titleFromText(raw.Text),
		Text:         raw.Text,
		ImageURLs:    images,
		Permalink:    raw.PostURL,
		CanonicalID:  raw.PostID,
		PublishedAt:  time.Unix(raw.Time, 0).UTC(),
		IsTextPost:   raw.IsTextPost,
		LocationHint: raw.Location,
		HasVideo:     raw.HasVideo,
		VideoURL:     raw.VideoURL,
	}
}

// titleFromText uses the first line of the post as its working title; source
// pages publish untitled posts where the opening line carries the headline.
func titleFromText(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		return strings.TrimSpace(text[:idx])
	}
	const maxTitle = 140
	if len(text) > maxTitle {
		if cut := strings.LastIndexByte(text[:maxTitle], ' '); cut > 0 {
			return text[:cut]
		}
		return text[:maxTitle]
	}
	return text
}
