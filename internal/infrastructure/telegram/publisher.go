package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"NewsIngestor/internal/ports"
)

const apiBase = "https://api.telegram.org"

// Publisher posts articles to a Telegram channel. One call to Publish is one
// logical external post; at-most-once semantics across retries are the
// publication claim's responsibility, not this client's.
type Publisher struct {
	botToken string
	chatID   string
	base     string
	client   *http.Client
	logger   *slog.Logger
}

var _ ports.Distributor = (*Publisher)(nil)

// NewPublisher registers bot token and channel identifier.
func NewPublisher(botToken, chatID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		botToken: botToken,
		chatID:   chatID,
		base:     apiBase,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// Publish prefers a multi-image media group; when the API definitively
// rejects it, Publish falls back to a single photo, trying each asset and
// finally the primary image, so one bad asset cannot keep an article off the
// channel. Transport-level failures never fall back: the request may have
// landed server-side, and a fallback post on top of it would double the
// article on the channel. Those errors surface to the caller, which releases
// its claim and retries the whole decision later.
func (p *Publisher) Publish(ctx context.Context, primaryImage string, images []string, message string) (string, error) {
	if p.botToken == "" || p.chatID == "" {
		return "", fmt.Errorf("telegram publisher misconfigured")
	}

	if len(images) > 1 {
		externalID, err := p.sendMediaGroup(ctx, images, message)
		if err == nil {
			return externalID, nil
		}
		if !isRejection(err) {
			return "", fmt.Errorf("publish: %w", err)
		}
		p.logger.Warn("media group rejected, falling back to single photo", "error", err)
	}

	var lastErr error
	for _, image := range images {
		externalID, err := p.sendPhoto(ctx, image, message)
		if err == nil {
			return externalID, nil
		}
		if !isRejection(err) {
			return "", fmt.Errorf("publish: %w", err)
		}
		lastErr = err
		p.logger.Warn("photo rejected, trying next asset", "image", image, "error", err)
	}

	if primaryImage != "" && !contains(images, primaryImage) {
		externalID, err := p.sendPhoto(ctx, primaryImage, message)
		if err == nil {
			return externalID, nil
		}
		if !isRejection(err) {
			return "", fmt.Errorf("publish: %w", err)
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no image available to publish")
	}
	return "", fmt.Errorf("publish: %w", lastErr)
}

// apiError is a definite Bot API rejection: the request reached Telegram and
// no message was created, so trying another payload is safe.
type apiError struct {
	method      string
	description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("telegram %s: %s", e.method, e.description)
}

func isRejection(err error) bool {
	var rejected *apiError
	return errors.As(err, &rejected)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

func (p *Publisher) sendMediaGroup(ctx context.Context, images []string, caption string) (string, error) {
	type inputMedia struct {
		Type    string `json:"type"`
		Media   string `json:"media"`
		Caption string `json:"caption,omitempty"`
	}

	// Telegram caps a media group at 10 items; the caption rides on the
	// first one.
	if len(images) > 10 {
		images = images[:10]
	}
	media := make([]inputMedia, 0, len(images))
	for i, image := range images {
		item := inputMedia{Type: "photo", Media: image}
		if i == 0 {
			item.Caption = caption
		}
		media = append(media, item)
	}

	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return "", fmt.Errorf("marshal media: %w", err)
	}

	form := url.Values{}
	form.Set("chat_id", p.chatID)
	form.Set("media", string(mediaJSON))

	raw, err := p.call(ctx, "sendMediaGroup", form)
	if err != nil {
		return "", err
	}

	var sent []sentMessage
	if err := json.Unmarshal(raw, &sent); err != nil {
		return "", fmt.Errorf("decode media group result: %w", err)
	}
	if len(sent) == 0 {
		return "", fmt.Errorf("media group result empty")
	}
	return strconv.FormatInt(sent[0].MessageID, 10), nil
}

func (p *Publisher) sendPhoto(ctx context.Context, image, caption string) (string, error) {
	form := url.Values{}
	form.Set("chat_id", p.chatID)
	form.Set("photo", image)
	form.Set("caption", caption)

	raw, err := p.call(ctx, "sendPhoto", form)
	if err != nil {
		return "", err
	}

	var sent sentMessage
	if err := json.Unmarshal(raw, &sent); err != nil {
		return "", fmt.Errorf("decode photo result: %w", err)
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

func (p *Publisher) call(ctx context.Context, method string, form url.Values) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", p.base, p.botToken, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	if !parsed.OK {
		return nil, &apiError{method: method, description: parsed.Description}
	}
	return parsed.Result, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
