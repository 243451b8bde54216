package dedup

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"NewsIngestor/internal/ports"
)

// maxImageBytes bounds how much of a remote image is read before decoding.
const maxImageBytes = 10 << 20

// HTTPHasher fetches images over HTTP and hashes them.
type HTTPHasher struct {
	client *http.Client
}

var _ ports.ImageHasher = (*HTTPHasher)(nil)

// NewHTTPHasher wires an HTTP client; a default with a generous timeout is
// used when nil is passed.
func NewHTTPHasher(client *http.Client) *HTTPHasher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPHasher{client: client}
}

// Hash downloads the image and computes its perceptual hash.
func (h *HTTPHasher) Hash(ctx context.Context, imageURL string) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch image: %s", resp.Status)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}

	return HashImage(img)
}
