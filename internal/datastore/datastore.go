// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package datastore is the thin row-contract adapter to calls, events,
// transcriptions, and contexts (spec.md §4.6). All updates are field-level
// patches; no read-modify-write except pipeline_checkpoints and
// recap_attempt_count, which are updated atomically via server-side SQL.
package datastore

import (
	"context"
	"time"

	"github.com/rapidaai/voicebridge/internal/apperrors"
	"github.com/rapidaai/voicebridge/internal/model"
	"gorm.io/gorm"
)

// CallWithRelations bundles a call row with everything the recap pipeline
// and webhook handler need in one fetch.
type CallWithRelations struct {
	Call           *model.Call
	Context        *model.CallContext
	Transcriptions []model.Transcription
	Events         []model.CallEvent
}

// Adapter is the row-contract interface every other component depends on.
// It never exposes the underlying SQL/ORM types.
type Adapter interface {
	InsertCall(ctx context.Context, call *model.Call) error
	UpdateCallFields(ctx context.Context, callID string, patch map[string]interface{}) error
	GetCall(ctx context.Context, callID string) (*model.Call, error)
	GetCallByCarrierCallControlID(ctx context.Context, carrierCallControlID string) (*model.Call, error)

	InsertCallEvent(ctx context.Context, event *model.CallEvent) error
	InsertTranscription(ctx context.Context, t *model.Transcription) error

	// UpsertCheckpoint records a named pipeline checkpoint at ts. The
	// pipeline_checkpoints entry is left unchanged if that checkpoint name
	// was already recorded for this call (first write wins), enforced
	// server-side so concurrent webhook deliveries can never race each
	// other. A checkpoint event row is appended on every call.
	UpsertCheckpoint(ctx context.Context, callID string, name string, ts time.Time) error

	// IncrementRecapAttemptCount atomically increments recap_attempt_count
	// and returns the new value, avoiding a Go-side read-modify-write.
	IncrementRecapAttemptCount(ctx context.Context, callID string) (int, error)

	GetCallContext(ctx context.Context, callID string) (*model.CallContext, error)
	UpdateCallContextFields(ctx context.Context, contextID string, patch map[string]interface{}) error

	ListTranscriptions(ctx context.Context, callID string) ([]model.Transcription, error)
	ListCallEvents(ctx context.Context, callID string) ([]model.CallEvent, error)

	GetCallWithRelations(ctx context.Context, callID string) (*CallWithRelations, error)

	GetIvrPath(ctx context.Context, ivrPathID string) (*model.IvrPath, error)

	InsertAssistantMessage(ctx context.Context, callID string, text string, ts time.Time) error

	// ListCallsWithExpiredTranscripts returns call ids whose transcripts are
	// older than retentionDays, for the cleanup sweep (§4.6 [ADDED]).
	ListCallsWithExpiredTranscripts(ctx context.Context, retentionDays int) ([]string, error)
	DeleteTranscriptionsForCall(ctx context.Context, callID string) error
}

type gormAdapter struct {
	db *gorm.DB
}

// NewGormAdapter wraps an already-opened *gorm.DB (Postgres in production,
// a sqlmock-backed *sql.DB in tests — see datastore_test.go).
func NewGormAdapter(db *gorm.DB) Adapter {
	return &gormAdapter{db: db}
}

func (a *gormAdapter) InsertCall(ctx context.Context, call *model.Call) error {
	if err := a.db.WithContext(ctx).Create(call).Error; err != nil {
		return wrapDatastore(err)
	}
	return nil
}

func (a *gormAdapter) UpdateCallFields(ctx context.Context, callID string, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	if err := a.db.WithContext(ctx).Model(&model.Call{}).Where("id = ?", callID).Updates(patch).Error; err != nil {
		return wrapDatastore(err)
	}
	return nil
}

func (a *gormAdapter) GetCall(ctx context.Context, callID string) (*model.Call, error) {
	var call model.Call
	err := a.db.WithContext(ctx).Where("id = ?", callID).First(&call).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.ErrCallNotFound
		}
		return nil, wrapDatastore(err)
	}
	return &call, nil
}

func (a *gormAdapter) GetCallByCarrierCallControlID(ctx context.Context, carrierCallControlID string) (*model.Call, error) {
	var call model.Call
	err := a.db.WithContext(ctx).Where("carrier_call_control_id = ?", carrierCallControlID).First(&call).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.ErrCallNotFound
		}
		return nil, wrapDatastore(err)
	}
	return &call, nil
}

func (a *gormAdapter) InsertCallEvent(ctx context.Context, event *model.CallEvent) error {
	if err := a.db.WithContext(ctx).Create(event).Error; err != nil {
		return wrapDatastore(err)
	}
	return nil
}

func (a *gormAdapter) InsertTranscription(ctx context.Context, t *model.Transcription) error {
	if err := a.db.WithContext(ctx).Create(t).Error; err != nil {
		return wrapDatastore(err)
	}
	return nil
}

// UpsertCheckpoint performs a server-side JSONB merge guarded by a "key not
// already present" predicate, so the first writer for a given checkpoint
// name always wins regardless of delivery order (spec.md §9 "Checkpoints
// as concurrent map").
func (a *gormAdapter) UpsertCheckpoint(ctx context.Context, callID string, name string, ts time.Time) error {
	err := a.db.WithContext(ctx).Exec(`
		UPDATE calls
		SET pipeline_checkpoints = COALESCE(pipeline_checkpoints, '{}'::jsonb) || jsonb_build_object(?, to_jsonb(?::timestamptz))
		WHERE id = ? AND NOT jsonb_exists(COALESCE(pipeline_checkpoints, '{}'::jsonb), ?)
	`, name, ts, callID, name).Error
	if err != nil {
		return wrapDatastore(err)
	}

	// Mirror the checkpoint as an append-only event row for the debug
	// timeline, regardless of whether the checkpoint write above took
	// effect (events are never deduplicated).
	return a.InsertCallEvent(ctx, &model.CallEvent{
		CallID:      callID,
		EventType:   "checkpoint:" + name,
		Description: name,
		Timestamp:   ts,
	})
}

// IncrementRecapAttemptCount is the atomic COUNTER += 1 primitive spec.md
// §9 calls out as an open question — implemented here as a single SQL
// UPDATE ... RETURNING rather than a Go-side read-modify-write.
func (a *gormAdapter) IncrementRecapAttemptCount(ctx context.Context, callID string) (int, error) {
	var newCount int
	row := a.db.WithContext(ctx).Raw(`
		UPDATE calls SET recap_attempt_count = recap_attempt_count + 1
		WHERE id = ?
		RETURNING recap_attempt_count
	`, callID).Row()
	if err := row.Scan(&newCount); err != nil {
		return 0, wrapDatastore(err)
	}
	return newCount, nil
}

func (a *gormAdapter) GetCallContext(ctx context.Context, callID string) (*model.CallContext, error) {
	var cc model.CallContext
	err := a.db.WithContext(ctx).Where("call_id = ?", callID).First(&cc).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil // context is optional (spec.md §3)
		}
		return nil, wrapDatastore(err)
	}
	return &cc, nil
}

func (a *gormAdapter) UpdateCallContextFields(ctx context.Context, contextID string, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	if err := a.db.WithContext(ctx).Model(&model.CallContext{}).Where("id = ?", contextID).Updates(patch).Error; err != nil {
		return wrapDatastore(err)
	}
	return nil
}

func (a *gormAdapter) ListTranscriptions(ctx context.Context, callID string) ([]model.Transcription, error) {
	var rows []model.Transcription
	if err := a.db.WithContext(ctx).Where("call_id = ?", callID).Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, wrapDatastore(err)
	}
	return rows, nil
}

func (a *gormAdapter) ListCallEvents(ctx context.Context, callID string) ([]model.CallEvent, error) {
	var rows []model.CallEvent
	if err := a.db.WithContext(ctx).Where("call_id = ?", callID).Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, wrapDatastore(err)
	}
	return rows, nil
}

// GetCallWithRelations fetches the call row, context row, transcriptions,
// and events concurrently (spec.md §4.5 step 2).
func (a *gormAdapter) GetCallWithRelations(ctx context.Context, callID string) (*CallWithRelations, error) {
	g, gctx := errgroupWithContext(ctx)

	var (
		call    *model.Call
		ccx     *model.CallContext
		transcr []model.Transcription
		events  []model.CallEvent
	)

	g.Go(func() error {
		c, err := a.GetCall(gctx, callID)
		if err != nil {
			return err
		}
		call = c
		return nil
	})
	g.Go(func() error {
		c, err := a.GetCallContext(gctx, callID)
		if err != nil {
			return err
		}
		ccx = c
		return nil
	})
	g.Go(func() error {
		rows, err := a.ListTranscriptions(gctx, callID)
		if err != nil {
			return err
		}
		transcr = rows
		return nil
	})
	g.Go(func() error {
		rows, err := a.ListCallEvents(gctx, callID)
		if err != nil {
			return err
		}
		events = rows
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &CallWithRelations{
		Call:           call,
		Context:        ccx,
		Transcriptions: transcr,
		Events:         events,
	}, nil
}

func (a *gormAdapter) GetIvrPath(ctx context.Context, ivrPathID string) (*model.IvrPath, error) {
	var path model.IvrPath
	if err := a.db.WithContext(ctx).Where("id = ?", ivrPathID).First(&path).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, wrapDatastore(err)
	}
	return &path, nil
}

func (a *gormAdapter) InsertAssistantMessage(ctx context.Context, callID string, text string, ts time.Time) error {
	confidence := 1.0
	return a.InsertTranscription(ctx, &model.Transcription{
		CallID:     callID,
		Speaker:    model.SpeakerAgent,
		Text:       text,
		Timestamp:  ts,
		Confidence: &confidence,
		Final:      true,
	})
}

func (a *gormAdapter) ListCallsWithExpiredTranscripts(ctx context.Context, retentionDays int) ([]string, error) {
	var ids []string
	err := a.db.WithContext(ctx).
		Model(&model.Call{}).
		Where("status = ? AND ended_at < ?", model.CallStatusEnded, time.Now().AddDate(0, 0, -retentionDays)).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, wrapDatastore(err)
	}
	return ids, nil
}

func (a *gormAdapter) DeleteTranscriptionsForCall(ctx context.Context, callID string) error {
	if err := a.db.WithContext(ctx).Where("call_id = ?", callID).Delete(&model.Transcription{}).Error; err != nil {
		return wrapDatastore(err)
	}
	return nil
}

func wrapDatastore(err error) error {
	return &datastoreError{cause: err}
}

type datastoreError struct {
	cause error
}

func (e *datastoreError) Error() string { return "datastore error: " + e.cause.Error() }
func (e *datastoreError) Unwrap() error { return apperrors.ErrDatastore }
