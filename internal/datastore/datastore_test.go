// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package datastore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rapidaai/voicebridge/internal/apperrors"
	"github.com/rapidaai/voicebridge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockAdapter(t *testing.T) (Adapter, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	return NewGormAdapter(gdb), mock
}

func TestGetCall_NotFound(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	mock.ExpectQuery(`SELECT \* FROM "calls"`).WillReturnRows(sqlmock.NewRows(nil))

	_, err := adapter.GetCall(context.Background(), "missing-id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrCallNotFound))
}

func TestGetCall_DatastoreErrorWraps(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	mock.ExpectQuery(`SELECT \* FROM "calls"`).WillReturnError(errors.New("connection reset"))

	_, err := adapter.GetCall(context.Background(), "call-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDatastore))
}

func TestUpsertCheckpoint_RunsJSONBMergeAndLogsEvent(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE calls")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "call_events"`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := adapter.UpsertCheckpoint(context.Background(), "call-1", "carrier_call_answered", time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementRecapAttemptCount_ReturnsNewValue(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	rows := sqlmock.NewRows([]string{"recap_attempt_count"}).AddRow(2)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE calls SET recap_attempt_count")).WillReturnRows(rows)

	n, err := adapter.IncrementRecapAttemptCount(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGetCallContext_MissingIsNotAnError(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	mock.ExpectQuery(`SELECT \* FROM "call_contexts"`).WillReturnRows(sqlmock.NewRows(nil))

	cc, err := adapter.GetCallContext(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Nil(t, cc)
}

func TestListCallsWithExpiredTranscripts(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	rows := sqlmock.NewRows([]string{"id"}).AddRow("call-1").AddRow("call-2")
	mock.ExpectQuery(`SELECT .*"id".* FROM "calls"`).WillReturnRows(rows)

	ids, err := adapter.ListCallsWithExpiredTranscripts(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, []string{"call-1", "call-2"}, ids)
}

func TestInsertAssistantMessage_WritesFinalAgentTranscription(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	mock.ExpectBegin()
	// Columns: id, call_id, speaker, text, timestamp, confidence, final, leg.
	mock.ExpectExec(`INSERT INTO "transcriptions"`).
		WithArgs(sqlmock.AnyArg(), "call-1", string(model.SpeakerAgent), "Goodbye, have a nice day.", sqlmock.AnyArg(), 1.0, true, "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := adapter.InsertAssistantMessage(context.Background(), "call-1", "Goodbye, have a nice day.", time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
