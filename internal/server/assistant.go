package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"edigate/internal/engine"
)

const (
	assistantTimeout = 20 * time.Second
	// The assistant only helps with document-to-payload mapping; anything
	// else is steered back.
	assistantSystemPrompt = "You are an assistant that ONLY provides help for EDI -> API mapping and integration. " +
		"Answer concisely with mapping guidance, field mappings, examples and rules, and reject any requests outside mapping help. " +
		"When appropriate, return example canonical JSON and suggested transformation logic. " +
		"If the user asks for unrelated tasks, respond with a short refusal and steer back to mapping help."
)

// registerAssistant exposes the mapping helper. With no completion API
// key configured it answers from the rule-based fallback, so the
// endpoint always works offline.
func registerAssistant(api huma.API, e engine.Engine) {
	a := newAssistant(e)
	huma.Register(api, huma.Operation{
		OperationID: "chat-map",
		Method:      http.MethodPost,
		Path:        "/chat/map",
		Summary:     "Mapping assistant",
		Description: "Answers EDI-to-payload mapping questions. Backed by an external completion API when configured, with a rule-based fallback otherwise.",
	}, func(ctx context.Context, input *struct {
		Body ChatMapRequest
	}) (*struct {
		Body ChatMapResponse
	}, error) {
		msg := strings.TrimSpace(input.Body.Message)
		if msg == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "message is required", nil)
		}
		return &struct {
			Body ChatMapResponse
		}{Body: ChatMapResponse{Reply: a.reply(ctx, msg)}}, nil
	})
}

type assistant struct {
	apiBase string
	model   string
	apiKey  string
	client  *http.Client
}

func newAssistant(e engine.Engine) assistant {
	a := assistant{
		apiKey: os.Getenv("EDIGATE_ASSISTANT_API_KEY"),
		client: &http.Client{Timeout: assistantTimeout},
	}
	if e.Config != nil {
		a.apiBase = strings.TrimRight(e.Config.Assistant.APIBase, "/")
		a.model = e.Config.Assistant.Model
	}
	return a
}

func (a assistant) reply(ctx context.Context, msg string) string {
	if a.apiKey == "" || a.apiBase == "" {
		return fallbackMapReply(msg)
	}
	reply, err := a.complete(ctx, msg)
	if err != nil {
		log.Printf("assistant: completion call failed: %v", err)
		return fmt.Sprintf("assistant unavailable (%v)\n\nFallback suggestion:\n%s", err, fallbackMapReply(msg))
	}
	return reply
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
	// Low temperature keeps mapping answers reproducible.
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
}

func (a assistant) complete(ctx context.Context, msg string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model: a.model,
		Messages: []completionMessage{
			{Role: "system", Content: assistantSystemPrompt},
			{Role: "user", Content: msg},
		},
		Temperature: 0.2,
		MaxTokens:   700,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	res, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}
	var parsed completionResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}

// fallbackMapReply answers the common 850/856 mapping questions without
// any external service.
func fallbackMapReply(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "850") || strings.Contains(m, "purchase order") || strings.Contains(m, "po"):
		return "Suggested mapping for 850 -> downstream sales order:\n" +
			"- Extract PO number: canonical.poNumber <= XML poNumber (matched by local name)\n" +
			"- Canonical example: {\"poNumber\": \"PO-12345\", \"status\": \"PARSED\"}\n" +
			"- Payload: {\"otherRefNum\": canonical.poNumber, \"memo\": \"Created via thesis platform prototype\"}\n" +
			"- Notes: validate PO format, map vendor/partner fields as needed."
	case strings.Contains(m, "856") || strings.Contains(m, "asn") || strings.Contains(m, "shipment"):
		return "Suggested mapping for 856 (ASN) -> downstream fulfillment:\n" +
			"- Extract shipmentIdentificationNumber -> canonical.shipmentNumber\n" +
			"- Extract poNumber -> canonical.poNumber\n" +
			"- For each item: itemIdentifier -> sku, quantityShipped -> quantity\n" +
			"- Canonical example: {\"shipmentNumber\":\"SHP-1\", \"poNumber\":\"PO-123\", \"items\": [{\"sku\":\"SKU-1\",\"quantity\":\"10\"}], \"status\": \"PARSED_856\"}\n" +
			"- Payload: {\"createdFrom\": canonical.poNumber, \"shipStatus\":\"SHIPPED\", \"shipmentNumber\": canonical.shipmentNumber, \"items\": canonical.items}"
	default:
		return "I can help with EDI -> API mapping (850, 856, canonical models, example payloads).\n" +
			"Try asking: 'How do I map 850 to the sales order payload?' or 'Show canonical JSON for an 856 ASN'.\n" +
			"For richer answers, set EDIGATE_ASSISTANT_API_KEY and configure assistant.api_base."
	}
}
