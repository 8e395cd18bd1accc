// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callflow is the webhook-driven call state machine (spec.md §4.4).
// It holds no in-memory call state beyond what it reads and writes through
// the datastore adapter per request, so it is safe under the carrier's
// out-of-order webhook delivery.
package callflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rapidaai/voicebridge/internal/carrier"
	"github.com/rapidaai/voicebridge/internal/datastore"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/model"
)

const (
	silenceReprompTimeout = 3 * time.Second
	closingSilenceTimeout = 10 * time.Second
	closingGoodbyeGrace   = 1 * time.Second
	ivrStepDelay          = 3 * time.Second
)

var continuationPhrases = []string{
	"wait", "actually", "one more thing", "hold on", "before you go",
	"can you also", "i also need", "i have another", "quick question",
	"also", "oh wait", "sorry", "one second",
}

var farewellPhrases = []string{
	"bye", "goodbye", "good bye", "talk to you later", "have a good day",
	"have a good one", "thanks bye", "thank you bye", "ok bye", "okay bye",
	"alright bye", "take care", "see you", "later", "that's all",
	"appreciate it bye", "thanks so much bye", "you too bye",
}

// AgentTrigger is how the handler tells the legacy (non-realtime) agent to
// speak next. In realtime mode this is a no-op: the session's own
// response.create / VAD loop drives the conversation.
type AgentTrigger interface {
	TriggerAgent(ctx context.Context, callID string, opts AgentTriggerOptions) error
}

// AgentTriggerOptions mirrors the flags the legacy per-turn agent endpoint
// expects.
type AgentTriggerOptions struct {
	IsOpening  bool
	IsReprompt bool
	Text       string
}

// Handler implements the webhook HTTP surface and the call state machine it
// drives.
type Handler struct {
	store        datastore.Adapter
	carrierClient *carrier.Client
	agent        AgentTrigger
	logger       logging.Logger

	bridgeHost       string
	realtimeModeOn   bool
}

// Config carries the deploy-time mode switch and bridge host used to build
// the carrier-facing media stream URL.
type Config struct {
	BridgeHost     string
	RealtimeModeOn bool // true iff AUDIO_BRIDGE_URL is set
}

func New(store datastore.Adapter, carrierClient *carrier.Client, agent AgentTrigger, logger logging.Logger, cfg Config) *Handler {
	return &Handler{
		store:          store,
		carrierClient:  carrierClient,
		agent:          agent,
		logger:         logger,
		bridgeHost:     cfg.BridgeHost,
		realtimeModeOn: cfg.RealtimeModeOn,
	}
}

type webhookEnvelope struct {
	Data struct {
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	} `json:"data"`
}

// HandleWebhook processes one carrier webhook delivery. It never returns an
// error to the HTTP layer: every failure is logged and the caller should
// still respond 200, per spec.md §4.4 "tolerant of missing fields".
func (h *Handler) HandleWebhook(ctx context.Context, body []byte) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.logger.Warnf("webhook: invalid envelope json: %v", err)
		return
	}

	callID, clientState, err := h.resolveCallID(ctx, env.Data.Payload)
	if err != nil || callID == "" {
		h.logger.Warnf("webhook: could not resolve call_id for event %s: %v", env.Data.EventType, err)
		return
	}

	h.logger.Debugf("webhook: call=%s event=%s", callID, env.Data.EventType)

	switch env.Data.EventType {
	case "call.initiated":
		h.onCallInitiated(ctx, callID, clientState)
	case "call.answered":
		h.onCallAnswered(ctx, callID, env.Data.Payload)
	case "call.machine.detection.ended":
		h.onMachineDetectionEnded(ctx, callID, env.Data.Payload)
	case "call.transcription":
		h.onTranscription(ctx, callID, env.Data.Payload)
	case "call.speak.ended":
		h.onSpeakEnded(ctx, callID)
	case "call.hangup":
		h.onHangup(ctx, callID, env.Data.Payload)
	case "streaming.started":
		h.logger.Infof("call %s: streaming started", callID)
	case "streaming.stopped":
		h.logger.Infof("call %s: streaming stopped", callID)
	case "streaming.failed":
		h.onStreamingFailed(ctx, callID)
	case "call.dtmf.received":
		h.onDTMFReceived(ctx, callID, env.Data.Payload)
	default:
		h.logger.Debugf("webhook: unhandled event type %s", env.Data.EventType)
	}

	// spec.md §4.4.3: the silence watchdog runs before returning from
	// every webhook, not just the ones that touch silence_started_at
	// themselves — checkSilence re-reads the row and is a no-op unless
	// the call is answered and actually past a timeout.
	if call, err := h.store.GetCall(ctx, callID); err == nil {
		h.checkSilence(ctx, call)
	}
}

// resolveCallID extracts the internal call_id from payload.client_state,
// falling back to a lookup by the carrier's own call_control_id.
func (h *Handler) resolveCallID(ctx context.Context, rawPayload json.RawMessage) (string, carrier.ClientState, error) {
	var cp carrier.CallControlPayload
	if len(rawPayload) > 0 {
		_ = json.Unmarshal(rawPayload, &cp)
	}

	if cp.ClientState != "" {
		cs, err := carrier.DecodeClientState(cp.ClientState)
		if err == nil && cs.CallID != "" {
			return cs.CallID, cs, nil
		}
	}

	if cp.CallControlID == "" {
		return "", carrier.ClientState{}, fmt.Errorf("no client_state and no call_control_id")
	}
	call, err := h.store.GetCallByCarrierCallControlID(ctx, cp.CallControlID)
	if err != nil {
		return "", carrier.ClientState{}, err
	}
	return call.ID, carrier.ClientState{CallID: call.ID, UserID: call.UserID}, nil
}

func (h *Handler) checkpoint(ctx context.Context, callID, name string) {
	if err := h.store.UpsertCheckpoint(ctx, callID, name, time.Now()); err != nil {
		h.logger.Warnf("checkpoint %s for call %s: %v", name, callID, err)
	}
}

func (h *Handler) onCallInitiated(ctx context.Context, callID string, cs carrier.ClientState) {
	patch := map[string]interface{}{"status": model.CallStatusRinging}
	if cs.UserID != "" {
		patch["user_id"] = cs.UserID
	}
	_ = h.store.UpdateCallFields(ctx, callID, patch)
	h.checkpoint(ctx, callID, "call_started")
}

func (h *Handler) onCallAnswered(ctx context.Context, callID string, rawPayload json.RawMessage) {
	var cp carrier.CallControlPayload
	_ = json.Unmarshal(rawPayload, &cp)

	now := time.Now()
	_ = h.store.UpdateCallFields(ctx, callID, map[string]interface{}{
		"status":             model.CallStatusAnswered,
		"started_at":         now,
		"reprompt_count":     0,
		"silence_started_at": nil,
	})
	if cp.CallControlID != "" {
		_ = h.store.UpdateCallFields(ctx, callID, map[string]interface{}{
			"carrier_call_control_id": cp.CallControlID,
		})
	}
	h.checkpoint(ctx, callID, "call_answered")

	if err := h.carrierClient.TranscriptionStart(ctx, cp.CallControlID, "en", "both", true); err != nil {
		h.logger.Warnf("transcription_start for call %s: %v", callID, err)
	}
	h.checkpoint(ctx, callID, "transcription_started")

	if h.realtimeModeOn {
		streamURL := fmt.Sprintf("wss://%s/telnyx-stream?call_id=%s", h.bridgeHost, callID)
		if err := h.carrierClient.StreamingStart(ctx, cp.CallControlID, streamURL); err != nil {
			h.logger.Warnf("streaming_start for call %s: %v", callID, err)
		}
	} else if h.agent != nil {
		if err := h.agent.TriggerAgent(ctx, callID, AgentTriggerOptions{IsOpening: true}); err != nil {
			h.logger.Warnf("trigger opening agent for call %s: %v", callID, err)
		}
	}

	h.markSpeechStarted(ctx, callID)
	h.walkIVRPath(ctx, callID, cp.CallControlID)
}

func (h *Handler) walkIVRPath(ctx context.Context, callID, callControlID string) {
	call, err := h.store.GetCall(ctx, callID)
	if err != nil || call.IvrPathID == nil {
		return
	}
	path, err := h.store.GetIvrPath(ctx, *call.IvrPathID)
	if err != nil || path == nil {
		return
	}

	cc, _ := h.store.GetCallContext(ctx, callID)
	var gathered map[string]string
	if cc != nil {
		gathered = cc.GatheredInfo
	}

	go func() {
		for _, step := range path.MenuPath {
			time.Sleep(ivrStepDelay)
			digits := step.Action
			if v, ok := gathered[step.Action]; ok {
				digits = v
			}
			if digits == "" {
				continue
			}
			if err := h.carrierClient.SendDTMF(context.Background(), callControlID, digits); err != nil {
				h.logger.Warnf("ivr send_dtmf step %d for call %s: %v", step.Step, callID, err)
			}
		}
	}()
}

func (h *Handler) onMachineDetectionEnded(ctx context.Context, callID string, rawPayload json.RawMessage) {
	var mp carrier.MachineDetectionPayload
	_ = json.Unmarshal(rawPayload, &mp)

	result := model.AMDResult(mp.Result)
	_ = h.store.UpdateCallFields(ctx, callID, map[string]interface{}{
		"amd_result": result,
	})
	h.checkpoint(ctx, callID, "amd_result_"+mp.Result)

	if result == model.AMDResultMachine {
		if err := h.carrierClient.Hangup(ctx, mp.CallControlID); err != nil {
			h.logger.Warnf("amd machine hangup for call %s: %v", callID, err)
		}
	}
}

func (h *Handler) onTranscription(ctx context.Context, callID string, rawPayload json.RawMessage) {
	var tp carrier.TranscriptionPayload
	_ = json.Unmarshal(rawPayload, &tp)

	if !tp.TranscriptionData.IsFinal {
		h.checkpoint(ctx, callID, "first_asr_partial")
		return
	}
	h.checkpoint(ctx, callID, "first_asr_final")

	leg := legValue(tp.Leg)
	speaker := model.SpeakerRemote
	if leg == "self" {
		speaker = model.SpeakerAgent
	}

	confidence := tp.TranscriptionData.Confidence
	_ = h.store.InsertTranscription(ctx, &model.Transcription{
		CallID:     callID,
		Speaker:    speaker,
		Text:       tp.TranscriptionData.Transcript,
		Timestamp:  time.Now(),
		Confidence: &confidence,
		Final:      true,
		Leg:        leg,
	})
	_ = h.store.UpdateCallFields(ctx, callID, map[string]interface{}{
		"last_remote_leg_value": leg,
	})

	if speaker != model.SpeakerRemote {
		return
	}

	_ = h.store.UpdateCallFields(ctx, callID, map[string]interface{}{
		"silence_started_at": nil,
	})

	call, err := h.store.GetCall(ctx, callID)
	if err != nil {
		return
	}

	if call.ClosingState == model.ClosingStateClosingSaid {
		h.handleClosingClassification(ctx, callID, tp.CallControlPayload.CallControlID, tp.TranscriptionData.Transcript)
	}
}

// legValue answers spec.md §9's open question on leg semantics: any
// non-"self" value is treated as remote, with the raw value preserved on
// the call row (last_remote_leg_value) for later diagnosis.
func legValue(raw string) string {
	return raw
}

func (h *Handler) handleClosingClassification(ctx context.Context, callID, callControlID, transcript string) {
	lower := strings.ToLower(transcript)

	if containsAny(lower, continuationPhrases) || strings.Contains(transcript, "?") {
		_ = h.store.UpdateCallFields(ctx, callID, map[string]interface{}{
			"closing_state":      model.ClosingStateActive,
			"closing_started_at": nil,
		})
		if h.agent != nil {
			_ = h.agent.TriggerAgent(ctx, callID, AgentTriggerOptions{Text: transcript})
		}
		return
	}

	if containsAny(lower, farewellPhrases) {
		time.Sleep(closingGoodbyeGrace)
		if err := h.carrierClient.Hangup(ctx, callControlID); err != nil {
			h.logger.Warnf("mutual goodbye hangup for call %s: %v", callID, err)
		}
		_ = h.store.InsertCallEvent(ctx, &model.CallEvent{
			CallID:      callID,
			EventType:   "hangup",
			Description: "MUTUAL_GOODBYE",
			Timestamp:   time.Now(),
		})
		return
	}

	// ambiguous: trigger agent, remain in closing_said
	if h.agent != nil {
		_ = h.agent.TriggerAgent(ctx, callID, AgentTriggerOptions{Text: transcript})
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func (h *Handler) onSpeakEnded(ctx context.Context, callID string) {
	h.markSpeechStarted(ctx, callID)

	call, err := h.store.GetCall(ctx, callID)
	if err != nil {
		return
	}
	if call.ClosingState == model.ClosingStateClosingSaid && call.ClosingStartedAt != nil {
		if time.Since(*call.ClosingStartedAt) >= closingSilenceTimeout {
			h.hangupForSilenceTimeout(ctx, callID)
		}
	}
}

func (h *Handler) markSpeechStarted(ctx context.Context, callID string) {
	now := time.Now()
	_ = h.store.UpdateCallFields(ctx, callID, map[string]interface{}{
		"silence_started_at": now,
	})
}

// checkSilence implements the §4.4.3 watchdog check performed before
// returning from each webhook.
func (h *Handler) checkSilence(ctx context.Context, call *model.Call) {
	if call.Status != model.CallStatusAnswered {
		return
	}
	if call.SilenceStartedAt == nil {
		return
	}

	elapsed := time.Since(*call.SilenceStartedAt)
	if call.ClosingState == model.ClosingStateClosingSaid {
		if elapsed >= closingSilenceTimeout {
			h.hangupForSilenceTimeout(ctx, call.ID)
		}
		return
	}

	if elapsed >= silenceReprompTimeout {
		_ = h.store.UpdateCallFields(ctx, call.ID, map[string]interface{}{
			"reprompt_count": call.RepromptCount + 1,
		})
		if h.agent != nil {
			_ = h.agent.TriggerAgent(ctx, call.ID, AgentTriggerOptions{IsReprompt: true})
		}
	}
}

func (h *Handler) hangupForSilenceTimeout(ctx context.Context, callID string) {
	h.checkpoint(ctx, callID, "silence_timeout")
	call, err := h.store.GetCall(ctx, callID)
	if err != nil {
		return
	}
	if err := h.carrierClient.Hangup(ctx, call.CarrierCallControlID); err != nil {
		h.logger.Warnf("silence timeout hangup for call %s: %v", callID, err)
	}
	_ = h.store.InsertCallEvent(ctx, &model.CallEvent{
		CallID:      callID,
		EventType:   "hangup",
		Description: "SILENCE_TIMEOUT_AFTER_CLOSING",
		Timestamp:   time.Now(),
	})
}

var hangupCauseToOutcome = map[string]model.CallOutcome{
	"normal_clearing":    model.CallOutcomeCompleted,
	"normal":             model.CallOutcomeCompleted,
	"busy":               model.CallOutcomeBusy,
	"no_answer":          model.CallOutcomeNoAnswer,
	"call_rejected":      model.CallOutcomeDeclined,
	"originator_cancel":  model.CallOutcomeCancelled,
}

func (h *Handler) onHangup(ctx context.Context, callID string, rawPayload json.RawMessage) {
	var payload struct {
		carrier.CallControlPayload
		HangupCause string `json:"hangup_cause"`
	}
	_ = json.Unmarshal(rawPayload, &payload)

	call, err := h.store.GetCall(ctx, callID)
	if err != nil {
		h.logger.Warnf("hangup: call %s not found: %v", callID, err)
		return
	}

	outcome, ok := hangupCauseToOutcome[payload.HangupCause]
	if !ok {
		outcome = model.CallOutcomeCompleted
	}
	if call.AMDResult != nil && *call.AMDResult == model.AMDResultMachine && outcome == model.CallOutcomeCompleted {
		outcome = model.CallOutcomeVoicemail
	}

	now := time.Now()
	patch := map[string]interface{}{
		"status":    model.CallStatusEnded,
		"ended_at":  now,
		"outcome":   outcome,
	}
	if call.StartedAt != nil {
		patch["duration_seconds"] = int64(now.Sub(*call.StartedAt).Seconds())
	}
	_ = h.store.UpdateCallFields(ctx, callID, patch)
	h.checkpoint(ctx, callID, "call_ended")

	if cc, _ := h.store.GetCallContext(ctx, callID); cc != nil {
		_ = h.store.UpdateCallContextFields(ctx, cc.ID, map[string]interface{}{
			"status": model.ContextStatusCompleted,
		})
	}
}

func (h *Handler) onStreamingFailed(ctx context.Context, callID string) {
	h.logger.Warnf("streaming failed for call %s, falling back to legacy agent path", callID)
	call, err := h.store.GetCall(ctx, callID)
	if err != nil {
		return
	}
	if err := h.carrierClient.TranscriptionStart(ctx, call.CarrierCallControlID, "en", "both", true); err != nil {
		h.logger.Warnf("fallback transcription_start for call %s: %v", callID, err)
	}
	if h.agent != nil {
		_ = h.agent.TriggerAgent(ctx, callID, AgentTriggerOptions{IsOpening: true})
	}
}

func (h *Handler) onDTMFReceived(ctx context.Context, callID string, rawPayload json.RawMessage) {
	var dp carrier.DTMFPayload
	_ = json.Unmarshal(rawPayload, &dp)
	_ = h.store.InsertCallEvent(ctx, &model.CallEvent{
		CallID:      callID,
		EventType:   "dtmf_received",
		Description: dp.DigitsReceived,
		Timestamp:   time.Now(),
	})
}
