// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package model holds the row-contract types shared by the webhook
// handler, the recap pipeline, and the datastore adapter.
package model

import "time"

// CallStatus is the lifecycle status of a call. It only ever advances
// forward along pending -> ringing -> answered -> ended.
type CallStatus string

const (
	CallStatusPending  CallStatus = "pending"
	CallStatusRinging  CallStatus = "ringing"
	CallStatusAnswered CallStatus = "answered"
	CallStatusEnded    CallStatus = "ended"
)

// CallDirection is the direction a call was placed in.
type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

// CallOutcome is the terminal disposition of an ended call.
type CallOutcome string

const (
	CallOutcomeCompleted CallOutcome = "completed"
	CallOutcomeVoicemail CallOutcome = "voicemail"
	CallOutcomeBusy      CallOutcome = "busy"
	CallOutcomeNoAnswer  CallOutcome = "no_answer"
	CallOutcomeDeclined  CallOutcome = "declined"
	CallOutcomeCancelled CallOutcome = "cancelled"
)

// AMDResult is the answering-machine-detection result the carrier reports.
type AMDResult string

const (
	AMDResultHuman   AMDResult = "human"
	AMDResultMachine AMDResult = "machine"
)

// RecapStatus tracks the post-call summarization pipeline's status.
// It starts empty, moves to RecapPending on a recap attempt, and from
// there transitions to exactly one terminal state. Transient failures may
// re-enter RecapPending on retry; RecapFailedPermanent never transitions
// again.
type RecapStatus string

const (
	RecapPending          RecapStatus = "recap_pending"
	RecapReady            RecapStatus = "recap_ready"
	RecapFailedTransient  RecapStatus = "recap_failed_transient"
	RecapFailedPermanent  RecapStatus = "recap_failed_permanent"
)

// IsTerminal reports whether status is one from which no further
// transition should occur (RecapFailedPermanent), or RecapReady, which is
// terminal on success.
func (s RecapStatus) IsTerminal() bool {
	return s == RecapFailedPermanent || s == RecapReady
}

// ClosingState tracks whether the agent has just said a farewell and is
// waiting to see if the caller confirms or continues.
type ClosingState string

const (
	ClosingStateActive     ClosingState = "active"
	ClosingStateClosingSaid ClosingState = "closing_said"
)

// AudioHealth is per-leg inbound/outbound audio frame counters, the
// concrete backing for the open backpressure-instrumentation question in
// spec.md §9.
type AudioHealth struct {
	FramesIn      uint64 `json:"frames_in"`
	FramesOut     uint64 `json:"frames_out"`
	FramesDropped uint64 `json:"frames_dropped"`
}

// Call is one row per call attempt.
type Call struct {
	ID        string        `gorm:"primaryKey" json:"id"`
	UserID    string        `json:"user_id"`
	Phone     string        `json:"phone"` // E.164
	Direction CallDirection `json:"direction"`
	Status    CallStatus    `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	CarrierCallControlID string `json:"carrier_call_control_id"`

	Outcome         *CallOutcome `json:"outcome,omitempty"`
	AMDResult       *AMDResult   `json:"amd_result,omitempty"`
	DurationSeconds *int64       `json:"duration_seconds,omitempty"`
	Summary         string       `json:"summary,omitempty"`

	RecapStatus       *RecapStatus `json:"recap_status,omitempty"`
	RecapErrorCode    string       `json:"recap_error_code,omitempty"`
	RecapAttemptCount int          `json:"recap_attempt_count"`
	RecapLastAttempt  *time.Time   `json:"recap_last_attempt_at,omitempty"`

	ClosingState     ClosingState `json:"closing_state"`
	ClosingStartedAt *time.Time   `json:"closing_started_at,omitempty"`

	SilenceStartedAt *time.Time `json:"silence_started_at,omitempty"`
	RepromptCount    int        `json:"reprompt_count"`

	PipelineCheckpoints map[string]time.Time `gorm:"serializer:json" json:"pipeline_checkpoints"`
	LastActivityAt      *time.Time           `json:"last_activity_at,omitempty"`
	InboundAudioHealth  AudioHealth          `gorm:"serializer:json" json:"inbound_audio_health"`

	IvrPathID *string `json:"ivr_path_id,omitempty"`

	LastRemoteLegValue string `json:"last_remote_leg_value,omitempty"`
}

// CallContextStatus is the lifecycle status of a call's planning context.
type CallContextStatus string

const (
	ContextStatusGathering CallContextStatus = "gathering"
	ContextStatusReady     CallContextStatus = "ready"
	ContextStatusInCall    CallContextStatus = "in_call"
	ContextStatusCompleted CallContextStatus = "completed"
)

// CallContext is the optional per-call planning context: the call's goal,
// what information has been gathered so far, and (if this callee has a
// known phone menu) which IvrPath to walk.
type CallContext struct {
	ID            string            `gorm:"primaryKey" json:"id"`
	CallID        *string           `json:"call_id,omitempty"`
	IntentCategory string           `json:"intent_category"`
	IntentPurpose  string           `json:"intent_purpose"`
	CompanyName    string           `json:"company_name,omitempty"`
	IvrPathID      *string          `json:"ivr_path_id,omitempty"`
	GatheredInfo   map[string]string `gorm:"serializer:json" json:"gathered_info"`
	Status         CallContextStatus `json:"status"`
}

// Speaker distinguishes the two sides of a transcript turn.
type Speaker string

const (
	SpeakerAgent  Speaker = "agent"
	SpeakerRemote Speaker = "remote"
)

// Transcription is one append-only ASR/TTS transcript row.
type Transcription struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	CallID     string    `json:"call_id"`
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence *float64  `json:"confidence,omitempty"`
	Final      bool      `json:"final"`
	Leg        string    `json:"leg,omitempty"`
}

// CallEvent is one append-only debug/audit timeline entry.
type CallEvent struct {
	ID          string                 `gorm:"primaryKey" json:"id"`
	CallID      string                 `json:"call_id"`
	EventType   string                 `json:"event_type"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `gorm:"serializer:json" json:"metadata"`
	Timestamp   time.Time              `json:"timestamp"`
}

// IvrMenuStep is one entry in an IvrPath's menu_path.
type IvrMenuStep struct {
	Step   int    `json:"step"`
	Prompt string `json:"prompt"`
	Action string `json:"action"` // literal digits, or a gathered_info key
	Note   string `json:"note,omitempty"`
}

// IvrPath is a shared, read-only stored DTMF navigation sequence for a
// known callee phone menu.
type IvrPath struct {
	ID         string        `gorm:"primaryKey" json:"id"`
	Company    string        `json:"company"`
	Department string        `json:"department"`
	MenuPath   []IvrMenuStep `gorm:"serializer:json" json:"menu_path"`
}
