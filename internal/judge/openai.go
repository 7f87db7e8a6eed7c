package judge

import (
	"context"
	"errors"
	"net/http"
)

// OpenAI grades sentences with the chat completions API.
type OpenAI struct {
	name     string
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Evaluate(ctx context.Context, sentence, word1, word2 string) (Verdict, error) {
	req := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt(sentence, word1, word2)},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	}

	var resp chatResponse
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := postJSON(ctx, o.client, o.endpoint, headers, req, &resp); err != nil {
		return Verdict{}, err
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, errors.New("judge: no choices in response")
	}
	return parseVerdict(resp.Choices[0].Message.Content), nil
}
