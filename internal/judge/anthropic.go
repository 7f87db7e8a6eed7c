package judge

import (
	"context"
	"errors"
	"net/http"
)

const anthropicVersion = "2023-06-01"

// Anthropic grades sentences with the messages API.
type Anthropic struct {
	name     string
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system"`
	Messages  []chatMessage `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (a *Anthropic) Name() string { return a.name }

func (a *Anthropic) Evaluate(ctx context.Context, sentence, word1, word2 string) (Verdict, error) {
	req := messagesRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  []chatMessage{{Role: "user", Content: prompt(sentence, word1, word2)}},
	}

	var resp messagesResponse
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}
	if err := postJSON(ctx, a.client, a.endpoint, headers, req, &resp); err != nil {
		return Verdict{}, err
	}
	for _, block := range resp.Content {
		if block.Type == "text" || block.Type == "" {
			return parseVerdict(block.Text), nil
		}
	}
	return Verdict{}, errors.New("judge: no text content in response")
}
