// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package summarizer wraps the OpenAI chat-completions call the recap
// pipeline uses to turn a transcript into a single outcome sentence
// (spec.md §4.5 step 8).
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/rapidaai/voicebridge/internal/apperrors"
)

const (
	requestTimeout = 30 * time.Second
	temperature    = 0.2
	model          = shared.ChatModelGPT4oMini

	systemPrompt = `You summarize a completed phone call between an AI voice agent and a person it called on the agent's behalf.
Produce a single sentence that states the concrete outcome of the call, using exact values mentioned in the transcript (names, times, amounts).
Also produce up to two short takeaways, and a confidence level of "high", "medium", or "low" reflecting how certain the outcome is from the transcript.
Respond with a JSON object: {"sentence": string, "takeaways": [string], "confidence": "high"|"medium"|"low"}.`
)

// Result is the parsed LLM response.
type Result struct {
	Sentence   string   `json:"sentence"`
	Takeaways  []string `json:"takeaways"`
	Confidence string   `json:"confidence"`
}

// Client wraps an OpenAI chat-completions client scoped to the recap prompt.
type Client struct {
	apiKey    string
	oaiClient oai.Client
}

// New builds a summarizer Client.
func New(apiKey string) *Client {
	return &Client{
		apiKey:    apiKey,
		oaiClient: oai.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
	}
}

// WithBaseURL overrides the OpenAI API base URL, e.g. to point a Client at
// an httptest.Server in another package's tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.oaiClient = oai.NewClient(option.WithAPIKey(c.apiKey), option.WithBaseURL(baseURL), option.WithMaxRetries(0))
	return c
}

// newOAIClient builds a client pointed at an arbitrary base URL, used by
// tests to exercise Summarize against an httptest server.
func newOAIClient(baseURL string) oai.Client {
	return oai.NewClient(option.WithAPIKey("test-key"), option.WithBaseURL(baseURL), option.WithMaxRetries(0))
}

// Summarize calls the LLM with the fixed recap system prompt and the given
// transcript text, returning the parsed outcome sentence. Errors are
// classified per spec.md §4.5 step 8 and wrap one of the apperrors AI_*
// or NetworkError sentinels, or ErrUnknown when the SDK error matches none.
func (c *Client) Summarize(ctx context.Context, transcript string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	params := oai.ChatCompletionNewParams{
		Model: model,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(transcript),
		},
		Temperature: param.NewOpt(temperature),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	resp, err := c.oaiClient.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("summarizer: empty choices in response: %w", apperrors.ErrAIAPIError)
	}

	var result Result
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("summarizer: parse response: %w: %w", apperrors.ErrAIParseError, err)
	}
	return &result, nil
}

// classifyError maps an openai-go SDK error to the recap pipeline's
// transient error kinds.
func classifyError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("summarizer: rate limited: %w: %w", apperrors.ErrAIRateLimit, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("summarizer: server error: %w: %w", apperrors.ErrAIServerError, err)
		default:
			return fmt.Errorf("summarizer: api error: %w: %w", apperrors.ErrAIAPIError, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("summarizer: network error: %w: %w", apperrors.ErrNetworkError, err)
	}

	return fmt.Errorf("summarizer: unknown error: %w: %w", apperrors.ErrUnknown, err)
}
