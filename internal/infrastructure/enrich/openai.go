package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"NewsIngestor/internal/config"
	"NewsIngestor/internal/domain"
	"NewsIngestor/internal/ports"
)

const requestTimeout = 60 * time.Second

const classifySystemPrompt = `You are a news desk assistant for a local news channel.
Given the untranslated title and body of a social-media post, respond with a
single JSON object:
{
  "translated_title": string (English),
  "translated_body": string (English),
  "excerpt": string (one-sentence English summary),
  "category": string (one of: crime, accident, weather, traffic, tourism, politics, events, other),
  "is_news": boolean (false for ads, greetings, horoscopes, memes),
  "interest_score": integer 1-5 (5 = major breaking news),
  "entities": {
    "locations": [string], "event_types": [string],
    "organizations": [string], "people": [string]
  }
}`

const entitiesSystemPrompt = `Extract entities from the news title. Respond with a single JSON object:
{"locations": [string], "event_types": [string], "organizations": [string], "people": [string]}
Keep entries short and lowercase. Use the original language for names.`

const photographUserPrompt = `Is this image a real photograph (answer "photo") or a text card, infographic, screenshot, logo or other graphic (answer "graphic")? Answer with one word.`

// Service implements ports.Enricher on top of the OpenAI API.
type Service struct {
	client         *openai.Client
	model          string
	visionModel    string
	embeddingModel string
}

var _ ports.Enricher = (*Service)(nil)

// NewService builds an enrichment client from configuration.
func NewService(cfg config.OpenAIConfig) *Service {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = &http.Client{Timeout: requestTimeout}

	return &Service{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          cfg.Model,
		visionModel:    cfg.VisionModel,
		embeddingModel: cfg.EmbeddingModel,
	}
}

type classifyResponse struct {
	TranslatedTitle string           `json:"translated_title"`
	TranslatedBody  string           `json:"translated_body"`
	Excerpt         string           `json:"excerpt"`
	Category        string           `json:"category"`
	IsNews          bool             `json:"is_news"`
	InterestScore   int              `json:"interest_score"`
	Entities        domain.EntitySet `json:"entities"`
}

// ClassifyAndTranslate runs the combined translation/classification call.
// A precomputed title embedding is reused; otherwise one is generated so the
// stored article always carries a vector.
func (s *Service) ClassifyAndTranslate(ctx context.Context, title, body string, embedding []float32) (ports.Enrichment, error) {
	var enrichment ports.Enrichment

	userPayload, err := json.Marshal(map[string]string{"title": title, "body": body})
	if err != nil {
		return enrichment, fmt.Errorf("marshal classify payload: %w", err)
	}

	var parsed classifyResponse
	if err := s.completeJSON(ctx, s.model, classifySystemPrompt, string(userPayload), &parsed); err != nil {
		return enrichment, fmt.Errorf("classify: %w", err)
	}

	if len(embedding) == 0 {
		embedding, err = s.Embed(ctx, title)
		if err != nil {
			return enrichment, fmt.Errorf("embed title: %w", err)
		}
	}

	entities := parsed.Entities
	enrichment = ports.Enrichment{
		Title:     parsed.TranslatedTitle,
		Body:      parsed.TranslatedBody,
		Excerpt:   parsed.Excerpt,
		Category:  parsed.Category,
		IsNews:    parsed.IsNews,
		BaseScore: clampScore(parsed.InterestScore),
		Entities:  &entities,
		Embedding: embedding,
	}
	return enrichment, nil
}

// IsPhotograph asks the vision model whether the image is a real photo.
func (s *Service) IsPhotograph(ctx context.Context, imageURL string) (bool, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: photographUserPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("vision check: %w", err)
	}
	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("vision check: empty response")
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	return strings.HasPrefix(answer, "photo"), nil
}

// ExtractEntities pulls the structured entity set from an untranslated title.
func (s *Service) ExtractEntities(ctx context.Context, title string) (*domain.EntitySet, error) {
	var entities domain.EntitySet
	if err := s.completeJSON(ctx, s.model, entitiesSystemPrompt, title, &entities); err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}
	return &entities, nil
}

// Embed returns an embedding vector for the text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(s.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create embedding: empty response")
	}
	return resp.Data[0].Embedding, nil
}

func (s *Service) completeJSON(ctx context.Context, model, systemPrompt, userPrompt string, v any) error {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("empty completion response")
	}

	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), v); err != nil {
		return fmt.Errorf("decode completion %q: %w", truncate(content, 120), err)
	}
	return nil
}

func clampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 5 {
		return 5
	}
	return score
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
