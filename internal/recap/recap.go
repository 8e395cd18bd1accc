// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package recap implements the post-call summarization pipeline
// (spec.md §4.5): fetch, build a transcript, call the LLM summarizer, and
// persist a CallCardData-shaped result.
package recap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rapidaai/voicebridge/internal/apperrors"
	"github.com/rapidaai/voicebridge/internal/datastore"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/model"
	"github.com/rapidaai/voicebridge/internal/summarizer"
)

// TranscriptTurn is one interleaved, time-sorted turn of the call.
type TranscriptTurn struct {
	Speaker    string
	Text       string
	Timestamp  time.Time
	Confidence *float64
}

// CallCardData is the assembled recap payload returned to callers and
// rendered by the UI.
type CallCardData struct {
	CallID          string
	WasAnswered     bool
	DurationSeconds int64
	EndReasonCode   string
	Status          string
	Summary         string
	Takeaways       []string
	Confidence      string
	RecapStatus     model.RecapStatus
	RecapErrorCode  string
	Transcript      []TranscriptTurn
}

// Request is the recap entry point's input (spec.md §4.5).
type Request struct {
	CallID    string
	FetchOnly bool
	IsRetry   bool
}

// outcomeToUIStatus maps a terminal call outcome to the status string the
// UI renders for non-recap-related presentation.
var outcomeToUIStatus = map[model.CallOutcome]string{
	model.CallOutcomeCompleted: "completed",
	model.CallOutcomeVoicemail: "voicemail",
	model.CallOutcomeBusy:      "busy",
	model.CallOutcomeNoAnswer:  "no_answer",
	model.CallOutcomeDeclined:  "declined",
	model.CallOutcomeCancelled: "cancelled",
}

var cannedSentenceByOutcome = map[model.CallOutcome]string{
	model.CallOutcomeVoicemail: "The call reached voicemail; no live conversation took place.",
	model.CallOutcomeBusy:      "The line was busy and the call could not be completed.",
	model.CallOutcomeNoAnswer:  "The call was not answered.",
	model.CallOutcomeDeclined:  "The call was declined by the recipient.",
	model.CallOutcomeCancelled: "The call was cancelled before it connected.",
}

// Pipeline runs the recap flow against a datastore and summarizer.
type Pipeline struct {
	store      datastore.Adapter
	summarizer *summarizer.Client
	logger     logging.Logger
}

func New(store datastore.Adapter, summarizerClient *summarizer.Client, logger logging.Logger) *Pipeline {
	return &Pipeline{store: store, summarizer: summarizerClient, logger: logger}
}

// Run executes the full pipeline for req.CallID and returns the assembled
// CallCardData, or an error classified per apperrors for the caller to
// decide whether a retry is worthwhile.
func (p *Pipeline) Run(ctx context.Context, req Request) (*CallCardData, error) {
	if !req.FetchOnly {
		if err := p.markPending(ctx, req); err != nil {
			p.logger.Warnf("recap: mark pending for call %s: %v", req.CallID, err)
		}
	}

	rels, err := p.store.GetCallWithRelations(ctx, req.CallID)
	if err != nil {
		if errors.Is(err, apperrors.ErrCallNotFound) {
			p.fail(ctx, req.CallID, apperrors.ErrCallNotFound)
			return nil, apperrors.ErrCallNotFound
		}
		p.fail(ctx, req.CallID, apperrors.ErrDatastore)
		return nil, fmt.Errorf("recap: fetch call relations: %w", err)
	}

	turns := buildTranscriptTurns(rels.Transcriptions, rels.Events)

	call := rels.Call
	wasAnswered := call.Status == model.CallStatusEnded && call.StartedAt != nil
	var durationSeconds int64
	if call.DurationSeconds != nil {
		durationSeconds = *call.DurationSeconds
	}
	endReasonCode, uiStatus := deriveEndReason(call)

	card := &CallCardData{
		CallID:          req.CallID,
		WasAnswered:     wasAnswered,
		DurationSeconds: durationSeconds,
		EndReasonCode:   endReasonCode,
		Status:          uiStatus,
		Transcript:      turns,
	}

	if !wasAnswered {
		card.Summary = cannedSentenceForUnanswered(call)
		card.Confidence = "low"
		if req.FetchOnly {
			return card, nil
		}
		return p.succeed(ctx, card)
	}

	if len(turns) == 0 {
		if !req.FetchOnly {
			p.fail(ctx, req.CallID, apperrors.ErrNoTranscript)
		}
		return nil, apperrors.ErrNoTranscript
	}

	if req.FetchOnly {
		card.Summary = call.Summary
		return card, nil
	}

	transcriptText := renderTranscript(turns)
	result, err := p.summarizer.Summarize(ctx, transcriptText)
	if err != nil {
		code, _ := apperrors.RecapErrorCode(err)
		p.store.UpdateCallFields(ctx, req.CallID, map[string]interface{}{
			"recap_status":     model.RecapFailedTransient,
			"recap_error_code": code,
		})
		return nil, err
	}

	sentence := result.Sentence
	if !passesQualityGuard(sentence) {
		sentence = fallbackSentence(turns)
	}

	card.Summary = sentence
	card.Takeaways = result.Takeaways
	card.Confidence = computeConfidence(turns)

	return p.succeed(ctx, card)
}

func (p *Pipeline) markPending(ctx context.Context, req Request) error {
	patch := map[string]interface{}{
		"recap_status":       model.RecapPending,
		"recap_last_attempt": time.Now(),
	}
	if err := p.store.UpdateCallFields(ctx, req.CallID, patch); err != nil {
		return err
	}
	if req.IsRetry {
		if _, err := p.store.IncrementRecapAttemptCount(ctx, req.CallID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, callID string, err error) {
	code, permanent := apperrors.RecapErrorCode(err)
	status := model.RecapFailedTransient
	if permanent {
		status = model.RecapFailedPermanent
	}
	p.store.UpdateCallFields(ctx, callID, map[string]interface{}{
		"recap_status":     status,
		"recap_error_code": code,
	})
}

func (p *Pipeline) succeed(ctx context.Context, card *CallCardData) (*CallCardData, error) {
	card.RecapStatus = model.RecapReady
	if err := p.store.UpdateCallFields(ctx, card.CallID, map[string]interface{}{
		"recap_status":     model.RecapReady,
		"recap_error_code": "",
		"summary":          card.Summary,
	}); err != nil {
		p.logger.Warnf("recap: persist summary for call %s: %v", card.CallID, err)
	}
	if err := p.store.InsertAssistantMessage(ctx, card.CallID, card.Summary, time.Now()); err != nil {
		p.logger.Warnf("recap: insert assistant message for call %s: %v", card.CallID, err)
	}
	return card, nil
}

// buildTranscriptTurns interleaves ASR transcription rows (always "remote"
// or "agent" per their Speaker field) with agent_speech events, sorts by
// timestamp, and drops empty-text turns (spec.md §4.5 step 4).
func buildTranscriptTurns(transcriptions []model.Transcription, events []model.CallEvent) []TranscriptTurn {
	var turns []TranscriptTurn

	for _, t := range transcriptions {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		turns = append(turns, TranscriptTurn{
			Speaker:    string(t.Speaker),
			Text:       t.Text,
			Timestamp:  t.Timestamp,
			Confidence: t.Confidence,
		})
	}

	for _, e := range events {
		if e.EventType != "agent_speech" || strings.TrimSpace(e.Description) == "" {
			continue
		}
		turns = append(turns, TranscriptTurn{
			Speaker:   "agent",
			Text:      e.Description,
			Timestamp: e.Timestamp,
		})
	}

	sort.Slice(turns, func(i, j int) bool { return turns[i].Timestamp.Before(turns[j].Timestamp) })
	return turns
}

func renderTranscript(turns []TranscriptTurn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Text)
	}
	return b.String()
}

// deriveEndReason derives the hangup-derived end-reason code and the UI
// status string from the call's outcome (spec.md §4.5 step 5).
func deriveEndReason(call *model.Call) (endReasonCode, uiStatus string) {
	if call.Outcome == nil {
		return "", "in_progress"
	}
	status, ok := outcomeToUIStatus[*call.Outcome]
	if !ok {
		status = string(*call.Outcome)
	}
	return string(*call.Outcome), status
}

func cannedSentenceForUnanswered(call *model.Call) string {
	if call.Outcome == nil {
		return "The call did not complete."
	}
	if s, ok := cannedSentenceByOutcome[*call.Outcome]; ok {
		return s
	}
	return "The call did not complete."
}
