// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package summarizer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rapidaai/voicebridge/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return &Client{
		oaiClient: newOAIClient(baseURL),
	}
}

func TestSummarize_ParsesValidJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [{"index":0,"message":{"role":"assistant","content":"{\"sentence\":\"Sarah said she will be home around 1:00 p.m.\",\"takeaways\":[],\"confidence\":\"high\"}"},"finish_reason":"stop"}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Summarize(context.Background(), "remote: I'll be home at 1pm")
	require.NoError(t, err)
	assert.Equal(t, "Sarah said she will be home around 1:00 p.m.", result.Sentence)
	assert.Equal(t, "high", result.Confidence)
}

func TestSummarize_RateLimitClassifiesAsAIRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Summarize(context.Background(), "transcript")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAIRateLimit))
}

func TestSummarize_ServerErrorClassifiesAsAIServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Summarize(context.Background(), "transcript")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAIServerError))
}

func TestSummarize_MalformedContentClassifiesAsAIParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-2",
			"object": "chat.completion",
			"choices": [{"index":0,"message":{"role":"assistant","content":"not json"},"finish_reason":"stop"}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Summarize(context.Background(), "transcript")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAIParseError))
}
