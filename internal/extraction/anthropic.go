// Package extraction turns free-form user text into structured partial
// facts. The quality of extraction is an upstream concern; the core treats
// these calls as fallible black boxes.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/fact"
)

const extractSystemPrompt = `You turn one user message describing a personal financial event into JSON.
Respond with a single JSON object and nothing else. Fields (omit anything the user did not state):
{
  "type": "EXPENSE|INCOME|ASSET_BUY|ASSET_SELL|TRANSFER|LIABILITY_PAYMENT",
  "amount": "123.45",
  "quantity": "29",
  "unit": "shares",
  "category": "groceries",
  "subcategory": "",
  "merchant": "",
  "tags": [],
  "occurred_at": "2024-05-01",
  "container_type": "CASH|BANK_ACCOUNT|CREDIT_CARD|WALLET|LOAN",
  "target_container_type": "",
  "asset_name": ""
}
Never invent an amount, date or account the user did not mention. Today is %s.`

// AnthropicExtractor implements Extract and Refine on top of the Anthropic
// messages API.
type AnthropicExtractor struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicExtractor creates an extractor. Model may be empty to use a
// default.
func NewAnthropicExtractor(apiKey, model string) *AnthropicExtractor {
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	return &AnthropicExtractor{
		client: anthropic.NewClient(apiKey),
		model:  model,
	}
}

// Extract parses a fresh utterance into a partial fact.
func (e *AnthropicExtractor) Extract(ctx context.Context, text string) (*fact.PartialFact, error) {
	prompt := fmt.Sprintf("User message: %q", text)
	pf, err := e.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	pf.RawText = text
	return pf, nil
}

// Refine parses a follow-up answer in the context of the field it answers.
// Only the newly learned fields are returned; merging is the handler's job.
func (e *AnthropicExtractor) Refine(ctx context.Context, partial *fact.PartialFact, missingField, answer string) (*fact.PartialFact, error) {
	known, err := json.Marshal(partial)
	if err != nil {
		return nil, fmt.Errorf("failed to encode partial fact: %w", err)
	}
	prompt := fmt.Sprintf(
		"Known so far: %s\nThe user was asked for the missing field %q and answered: %q\nReturn JSON with only the fields this answer provides.",
		known, missingField, answer,
	)
	return e.complete(ctx, prompt)
}

func (e *AnthropicExtractor) complete(ctx context.Context, prompt string) (*fact.PartialFact, error) {
	system := fmt.Sprintf(extractSystemPrompt, time.Now().UTC().Format("2006-01-02"))
	resp, err := e.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(e.model),
		System:    system,
		MaxTokens: 512,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(prompt),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("extraction returned no content")
	}
	return parsePayload(resp.Content[0].GetText())
}

// payload is the loose wire shape the model produces; everything is a
// string so a slightly off response does not fail to decode.
type payload struct {
	Type                string   `json:"type"`
	Amount              string   `json:"amount"`
	Quantity            string   `json:"quantity"`
	Unit                string   `json:"unit"`
	Category            string   `json:"category"`
	Subcategory         string   `json:"subcategory"`
	Merchant            string   `json:"merchant"`
	Tags                []string `json:"tags"`
	OccurredAt          string   `json:"occurred_at"`
	ContainerType       string   `json:"container_type"`
	TargetContainerType string   `json:"target_container_type"`
	AssetName           string   `json:"asset_name"`
}

func parsePayload(raw string) (*fact.PartialFact, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("extraction returned malformed JSON: %w", err)
	}

	pf := &fact.PartialFact{Type: fact.TxnType(p.Type)}
	if p.Amount != "" {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return nil, fmt.Errorf("extraction returned bad amount %q: %w", p.Amount, err)
		}
		pf.Amount = &amount
	}
	if p.Quantity != "" {
		qty, err := decimal.NewFromString(p.Quantity)
		if err != nil {
			return nil, fmt.Errorf("extraction returned bad quantity %q: %w", p.Quantity, err)
		}
		pf.Quantity = &qty
	}
	if p.Unit != "" {
		pf.Unit = &p.Unit
	}
	if p.Category != "" {
		pf.Category = &p.Category
	}
	if p.Subcategory != "" {
		pf.Subcategory = &p.Subcategory
	}
	if p.Merchant != "" {
		pf.Merchant = &p.Merchant
	}
	if len(p.Tags) > 0 {
		pf.Tags = p.Tags
	}
	if p.OccurredAt != "" {
		occurred, err := time.Parse("2006-01-02", p.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("extraction returned bad date %q: %w", p.OccurredAt, err)
		}
		pf.OccurredAt = &occurred
	}
	if p.ContainerType != "" {
		typ := container.Type(p.ContainerType)
		pf.ContainerType = &typ
	}
	if p.TargetContainerType != "" {
		typ := container.Type(p.TargetContainerType)
		pf.TargetContainerType = &typ
	}
	if p.AssetName != "" {
		pf.AssetName = &p.AssetName
	}
	return pf, nil
}
