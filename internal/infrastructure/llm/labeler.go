package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"UnrestWatch/internal/config"
	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/ports"
)

// Labeler implements the extractor fallback through an OpenAI-compatible
// chat API: the article is sent with a labeling prompt and the model replies
// with a JSON label object.
type Labeler struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Extractor = (*Labeler)(nil)

// NewLabeler builds a client from configuration.
func NewLabeler(cfg config.LabelerConfig) *Labeler {
	return &Labeler{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: safePrompt(cfg.SystemPrompt),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type labelResult struct {
	Sector     string   `json:"sector"`
	Scope      string   `json:"scope"`
	Location   string   `json:"location"`
	Actors     []string `json:"actors"`
	ActionDate string   `json:"action_date"`
	Confidence float64  `json:"confidence"`
}

// Extract asks the model to label the article and parses the JSON reply.
func (l *Labeler) Extract(ctx context.Context, record domain.ArticleRecord) (domain.AttributeBundle, error) {
	if l.apiKey == "" || l.endpoint == "" || l.model == "" {
		return domain.AttributeBundle{}, fmt.Errorf("labeler misconfigured")
	}

	article := map[string]string{
		"title": record.Title,
		"body":  truncate(record.Body, 2000),
	}
	user, err := json.Marshal(article)
	if err != nil {
		return domain.AttributeBundle{}, fmt.Errorf("marshal article: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"model": l.model,
		"messages": []map[string]string{
			{"role": "system", "content": l.systemPrompt},
			{"role": "user", "content": string(user)},
		},
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return domain.AttributeBundle{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.AttributeBundle{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return domain.AttributeBundle{}, fmt.Errorf("label article: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.AttributeBundle{}, fmt.Errorf("labeler error %s: %s",
			resp.Status, strings.TrimSpace(string(payload)))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return domain.AttributeBundle{}, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return domain.AttributeBundle{}, fmt.Errorf("labeler returned no choices")
	}

	var label labelResult
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &label); err != nil {
		return domain.AttributeBundle{}, fmt.Errorf("parse label json: %w", err)
	}

	return toBundle(label), nil
}

func toBundle(label labelResult) domain.AttributeBundle {
	bundle := domain.AttributeBundle{
		Sector:       label.Sector,
		SectorConf:   label.Confidence,
		Scope:        domain.ParseScope(label.Scope),
		ScopeConf:    label.Confidence,
		Location:     label.Location,
		LocationConf: label.Confidence,
		Actors:       label.Actors,
	}
	if len(label.Actors) > 0 {
		bundle.ActorsConf = label.Confidence
	}
	if label.ActionDate != "" {
		if date, err := dateparse.ParseAny(label.ActionDate); err == nil {
			day := date.UTC().Truncate(24 * time.Hour)
			bundle.ActionDate = &day
			bundle.DateConf = label.Confidence
		}
	}
	return bundle
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You label news articles about labour unrest. " +
			"Return a JSON object with sector, scope, location, actors, action_date and confidence fields."
	}
	return prompt
}
