// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package carrier wraps the Telnyx Call Control REST API (spec.md §6). It
// never touches a call row; every method is a single outbound request keyed
// by the carrier's own call_control_id.
package carrier

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rapidaai/voicebridge/internal/apperrors"
	"github.com/rapidaai/voicebridge/internal/logging"
)

const telnyxBaseURL = "https://api.telnyx.com/v2"

// Client is the carrier control-plane client. A failed call always returns
// apperrors.ErrCarrierAPI-wrapped; callers log and continue rather than
// abort the in-flight webhook response (spec.md §7).
type Client struct {
	rc         *resty.Client
	connectionID string
	phoneNumber  string
	logger       logging.Logger
}

// New builds a Client bound to a single Telnyx connection (application) and
// the outbound caller-id phone number configured for it.
func New(apiKey, connectionID, phoneNumber string, logger logging.Logger) *Client {
	rc := resty.New().
		SetBaseURL(telnyxBaseURL).
		SetAuthToken(apiKey).
		SetTimeout(10_000_000_000) // 10s, spec.md §5 carrier control API timeout

	return &Client{
		rc:           rc,
		connectionID: connectionID,
		phoneNumber:  phoneNumber,
		logger:       logger,
	}
}

// WithBaseURL overrides the Telnyx API base URL, e.g. to point a Client at
// an httptest.Server in another package's tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.rc.SetBaseURL(baseURL)
	return c
}

// PlaceCallRequest is the payload for POST /calls.
type PlaceCallRequest struct {
	To                  string `json:"to"`
	ClientState         string `json:"client_state,omitempty"`
	WebhookURL          string `json:"webhook_url,omitempty"`
	AnsweringMachineDetection string `json:"answering_machine_detection,omitempty"`
}

// PlaceCallResult carries back the fields the webhook handler needs to
// correlate future events to this call.
type PlaceCallResult struct {
	CallControlID string `json:"call_control_id"`
	CallLegID     string `json:"call_leg_id"`
	CallSessionID string `json:"call_session_id"`
}

type telnyxEnvelope[T any] struct {
	Data T `json:"data"`
}

// PlaceCall originates an outbound call on the configured connection.
func (c *Client) PlaceCall(ctx context.Context, to, clientState, webhookURL string) (*PlaceCallResult, error) {
	var out telnyxEnvelope[PlaceCallResult]
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"to":                          to,
			"from":                        c.phoneNumber,
			"connection_id":               c.connectionID,
			"client_state":                clientState,
			"webhook_url":                 webhookURL,
			"answering_machine_detection": "premium",
		}).
		SetResult(&out).
		Post("/calls")
	if err != nil {
		return nil, fmt.Errorf("telnyx place call: %w: %w", apperrors.ErrCarrierAPI, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("telnyx place call: %w: status %d: %s", apperrors.ErrCarrierAPI, resp.StatusCode(), resp.String())
	}
	return &out.Data, nil
}

// StreamingStart instructs the carrier to open a bidirectional WebSocket
// media stream to streamURL for the given call leg.
func (c *Client) StreamingStart(ctx context.Context, callControlID, streamURL string) error {
	return c.action(ctx, callControlID, "streaming_start", map[string]interface{}{
		"stream_url":                streamURL,
		"stream_track":              "both_tracks",
		"stream_bidirectional_mode": "rtp",
	})
}

// StreamingStop tells the carrier to close the media stream for this leg.
func (c *Client) StreamingStop(ctx context.Context, callControlID string) error {
	return c.action(ctx, callControlID, "streaming_stop", nil)
}

// TranscriptionStart enables the carrier's own ASR for legacy (non-realtime)
// mode, where voicebridge never sees raw audio. tracks is the carrier's
// transcription_tracks value (e.g. "both"); interimResults requests
// non-final transcript events in addition to final ones (spec.md §4.4 step 1).
func (c *Client) TranscriptionStart(ctx context.Context, callControlID, language, tracks string, interimResults bool) error {
	return c.action(ctx, callControlID, "transcription_start", map[string]interface{}{
		"language":             language,
		"transcription_engine": "B",
		"transcription_tracks": tracks,
		"interim_results":      interimResults,
	})
}

// SendDTMF plays the given digit string on the call (used by the IVR
// auto-navigator).
func (c *Client) SendDTMF(ctx context.Context, callControlID, digits string) error {
	return c.action(ctx, callControlID, "send_dtmf", map[string]interface{}{
		"digits": digits,
	})
}

// Speak asks the carrier's TTS to speak text on the call.
func (c *Client) Speak(ctx context.Context, callControlID, text, voice string) error {
	return c.action(ctx, callControlID, "speak", map[string]interface{}{
		"payload":      text,
		"voice":        voice,
		"payload_type": "text",
	})
}

// Hangup terminates the call leg.
func (c *Client) Hangup(ctx context.Context, callControlID string) error {
	return c.action(ctx, callControlID, "hangup", nil)
}

func (c *Client) action(ctx context.Context, callControlID, action string, body map[string]interface{}) error {
	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(fmt.Sprintf("/calls/%s/actions/%s", callControlID, action))
	if err != nil {
		return fmt.Errorf("telnyx %s: %w: %w", action, apperrors.ErrCarrierAPI, err)
	}
	if resp.IsError() {
		return fmt.Errorf("telnyx %s: %w: status %d: %s", action, apperrors.ErrCarrierAPI, resp.StatusCode(), resp.String())
	}
	return nil
}
