// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package carrier

import "encoding/json"

// WebhookEvent is the envelope Telnyx posts to /webhook/telnyx. The Payload
// field is intentionally untyped JSON: each event_type carries a different
// shape and the handler only ever reads the handful of fields it needs
// (spec.md §4.4 "tolerant of unknown/missing fields").
type WebhookEvent struct {
	Data struct {
		EventType string          `json:"event_type"`
		ID        string          `json:"id"`
		Payload   json.RawMessage `json:"payload"`
	} `json:"data"`
}

// CallControlPayload covers the fields shared by every call.* event type.
type CallControlPayload struct {
	CallControlID string `json:"call_control_id"`
	CallLegID     string `json:"call_leg_id"`
	CallSessionID string `json:"call_session_id"`
	ClientState   string `json:"client_state"`
	From          string `json:"from"`
	To            string `json:"to"`
}

// MachineDetectionPayload is the payload of call.machine.detection.ended.
type MachineDetectionPayload struct {
	CallControlPayload
	Result string `json:"result"` // "human" | "machine" | "not_sure"
}

// TranscriptionPayload is the payload of call.transcription, present only
// in legacy (carrier-ASR) mode.
type TranscriptionPayload struct {
	CallControlPayload
	Leg               string `json:"leg"` // "self" or any other value, per spec.md §9 open question
	TranscriptionData struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
		IsFinal    bool    `json:"is_final"`
	} `json:"transcription_data"`
}

// DTMFPayload is the payload of call.dtmf.received.
type DTMFPayload struct {
	CallControlPayload
	DigitsReceived string `json:"digit"`
}

// ClientState is the bridge's own state blob, base64-JSON-encoded into the
// client_state field on outbound calls so webhook deliveries can recover
// call and caller identity even before the row is committed (spec.md §4.4).
type ClientState struct {
	CallID string `json:"call_id"`
	UserID string `json:"user_id"`
}

// EncodeClientState base64-JSON-encodes a ClientState for the client_state
// field on an outbound call request.
func EncodeClientState(cs ClientState) (string, error) {
	raw, err := json.Marshal(cs)
	if err != nil {
		return "", err
	}
	return base64Encode(raw), nil
}

// DecodeClientState reverses EncodeClientState. Callers fall back to
// resolving the call by telnyx_call_id (CarrierCallControlID) when this
// returns an error or an empty CallID, since client_state is not always
// echoed back by the carrier (spec.md §9).
func DecodeClientState(s string) (ClientState, error) {
	var cs ClientState
	if s == "" {
		return cs, nil
	}
	raw, err := base64Decode(s)
	if err != nil {
		return cs, err
	}
	if err := json.Unmarshal(raw, &cs); err != nil {
		return cs, err
	}
	return cs, nil
}
