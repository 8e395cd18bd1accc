// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rapidaai/voicebridge/internal/datastore"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter implements datastore.Adapter with in-memory bookkeeping for
// just the calls session.go exercises.
type fakeAdapter struct {
	datastore.Adapter
	mu             sync.Mutex
	transcriptions []model.Transcription
	context        *model.CallContext
}

func (f *fakeAdapter) InsertTranscription(ctx context.Context, t *model.Transcription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcriptions = append(f.transcriptions, *t)
	return nil
}

func (f *fakeAdapter) GetCallContext(ctx context.Context, callID string) (*model.CallContext, error) {
	return f.context, nil
}

// fakeCallbacks records every callback invocation for assertions.
type fakeCallbacks struct {
	mu          sync.Mutex
	transcripts []string
	errs        []error
	endCount    int
}

func (f *fakeCallbacks) OnTranscript(speaker model.Speaker, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, text)
}

func (f *fakeCallbacks) OnError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *fakeCallbacks) OnEnd() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCount++
}

func newTestSession() (*Session, *fakeCallbacks) {
	cb := &fakeCallbacks{}
	store := &fakeAdapter{}
	s := New("call-1", Config{}, store, cb, logging.NewNop())
	return s, cb
}

func TestCleanup_FiresOnEndExactlyOnce(t *testing.T) {
	s, cb := newTestSession()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Cleanup()
		}()
	}
	wg.Wait()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.Equal(t, 1, cb.endCount)
}

func TestEmitTranscript_NeverFiresAfterCleanup(t *testing.T) {
	s, cb := newTestSession()
	s.Cleanup()
	s.emitTranscript(model.SpeakerAgent, "hello after close")

	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.Empty(t, cb.transcripts)
}

func TestEmitTranscript_EmptyTextIsDropped(t *testing.T) {
	s, cb := newTestSession()
	s.emitTranscript(model.SpeakerAgent, "")

	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.Empty(t, cb.transcripts)
}

func TestEmitTranscript_PersistsAndInvokesCallback(t *testing.T) {
	s, cb := newTestSession()
	store := s.store.(*fakeAdapter)

	s.emitTranscript(model.SpeakerRemote, "yes, 1pm works")

	cb.mu.Lock()
	require.Len(t, cb.transcripts, 1)
	assert.Equal(t, "yes, 1pm works", cb.transcripts[0])
	cb.mu.Unlock()

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.transcriptions, 1)
	assert.Equal(t, model.SpeakerRemote, store.transcriptions[0].Speaker)
}

func TestHandleCarrierMessage_StopTriggersCleanup(t *testing.T) {
	s, cb := newTestSession()
	s.HandleCarrierMessage([]byte(`{"event":"stop"}`))

	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.Equal(t, 1, cb.endCount)
}

func TestHandleCarrierMessage_InvalidJSONIsIgnored(t *testing.T) {
	s, cb := newTestSession()
	s.HandleCarrierMessage([]byte(`not json`))

	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.Equal(t, 0, cb.endCount)
}

func TestForwardCarrierAudioToInference_DropsWithoutInferenceConn(t *testing.T) {
	s, _ := newTestSession()
	// inferenceConn is nil until ConnectToInference succeeds; this must not
	// panic and must simply drop the frame.
	s.forwardCarrierAudioToInference("AAAA")
}

func TestLoadContextBlock_RendersGoalAndGatheredInfo(t *testing.T) {
	s, _ := newTestSession()
	store := s.store.(*fakeAdapter)
	store.context = &model.CallContext{
		IntentPurpose:  "confirm appointment",
		IntentCategory: "scheduling",
		CompanyName:    "Acme Dental",
		GatheredInfo:   map[string]string{"preferred_time": "1pm"},
	}

	block := s.loadContextBlock(context.Background())
	assert.Contains(t, block, "confirm appointment")
	assert.Contains(t, block, "Acme Dental")
	assert.Contains(t, block, "preferred_time: 1pm")
}

func TestLoadContextBlock_EmptyWhenNoContext(t *testing.T) {
	s, _ := newTestSession()
	assert.Equal(t, "", s.loadContextBlock(context.Background()))
}

func TestEnsureInt16Cap_GrowsOnlyWhenNeeded(t *testing.T) {
	buf := make([]int16, 0, 4)
	grown := ensureInt16Cap(buf, 3)
	assert.Equal(t, 3, len(grown))
	assert.True(t, cap(grown) >= 4)

	buf2 := make([]int16, 0, 2)
	grown2 := ensureInt16Cap(buf2, 8)
	assert.Equal(t, 8, len(grown2))
}

func TestInt16LittleEndianRoundTrip(t *testing.T) {
	src := []int16{0, 1, -1, 32767, -32768, 12345}
	bytes := make([]byte, len(src)*2)
	int16ToLittleEndianBytes(bytes, src)

	back := make([]int16, len(src))
	littleEndianBytesToInt16(back, bytes)
	assert.Equal(t, src, back)
}

func TestOutboundAudio_DropsOldestWhenQueueFull(t *testing.T) {
	s, _ := newTestSession()
	// Fill the queue past capacity with distinguishable payloads and
	// confirm the channel never blocks, retains at most its capacity, and
	// keeps the newest frames: the first five (0..4) are the ones dropped.
	for i := 0; i < outboundQueueDepth+5; i++ {
		select {
		case s.outboundAudio <- []byte{byte(i)}:
		default:
			select {
			case <-s.outboundAudio:
			default:
			}
			select {
			case s.outboundAudio <- []byte{byte(i)}:
			default:
			}
		}
	}
	assert.LessOrEqual(t, len(s.outboundAudio), outboundQueueDepth)
	head := <-s.outboundAudio
	assert.Equal(t, byte(5), head[0])
}

func TestNew_SetsUpDoneChannelOpen(t *testing.T) {
	s, _ := newTestSession()
	select {
	case <-s.done:
		t.Fatal("done channel should not be closed before Cleanup")
	case <-time.After(10 * time.Millisecond):
	}
}
