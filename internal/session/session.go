// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package session implements the per-call audio bridge between a carrier
// media WebSocket and the realtime-inference WebSocket (spec.md §4.2).
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rapidaai/voicebridge/internal/apperrors"
	"github.com/rapidaai/voicebridge/internal/codec"
	"github.com/rapidaai/voicebridge/internal/datastore"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/model"
)

const (
	carrierSampleRate   = 8000
	inferenceSampleRate = 24000

	inferenceConnectTimeout = 15 * time.Second

	// outboundQueueDepth bounds the carrier-bound audio queue to roughly
	// 200ms of audio at 20ms/frame, so a slow carrier socket sheds the
	// oldest buffered inference deltas instead of growing unbounded
	// (spec.md §9 backpressure).
	outboundQueueDepth = 10
)

// Callbacks is the per-session event sink the bridge server implements.
// onTranscript never fires after onEnd; onEnd fires exactly once.
type Callbacks interface {
	OnTranscript(speaker model.Speaker, text string)
	OnError(err error)
	OnEnd()
}

// Config carries the inference connection parameters that do not vary
// per-call (API key, model, voice, instructions template).
type Config struct {
	OpenAIAPIKey        string
	OpenAIRealtimeModel string
	OpenAIVoice         string
	Instructions        string
}

// Session bridges one call's carrier media socket to one inference
// WebSocket connection. All exported methods are safe to call from the
// bridge server's per-connection goroutines.
type Session struct {
	callID string
	cfg    Config
	store  datastore.Adapter
	cb     Callbacks
	logger logging.Logger

	inferenceConn *websocket.Conn
	inferenceMu   sync.Mutex // guards writes to inferenceConn

	carrierConn *websocket.Conn
	carrierMu   sync.Mutex // guards writes to carrierConn

	closeOnce sync.Once
	done      chan struct{}

	outboundAudio chan []byte // carrier-bound μ-law frames, backpressure-bounded

	// Reused scratch buffers for the carrier->inference audio path
	// (spec.md §4.1 "allocation-free"). Grown on first use and whenever a
	// larger frame arrives; the inference->carrier path does not use them.
	mu              sync.Mutex
	pcmScratch      []int16
	resampScratch   []int16
	byteScratch     []byte
	mulawPCMScratch []byte // decodeMulawToInt16's intermediate PCM16 bytes
}

// New constructs a Session. It does not open any connection; call
// ConnectToInference and AttachCarrierSocket to activate it.
func New(callID string, cfg Config, store datastore.Adapter, cb Callbacks, logger logging.Logger) *Session {
	return &Session{
		callID:        callID,
		cfg:           cfg,
		store:         store,
		cb:            cb,
		logger:        logger.With("call_id", callID),
		done:          make(chan struct{}),
		outboundAudio: make(chan []byte, outboundQueueDepth),
	}
}

// realtimeSessionUpdate mirrors the OpenAI Realtime session.update frame.
type realtimeSessionUpdate struct {
	Type    string                `json:"type"`
	Session realtimeSessionConfig `json:"session"`
}

type realtimeSessionConfig struct {
	Modalities          []string                  `json:"modalities"`
	Voice               string                    `json:"voice,omitempty"`
	Instructions        string                    `json:"instructions,omitempty"`
	InputAudioFormat    string                    `json:"input_audio_format"`
	OutputAudioFormat   string                    `json:"output_audio_format"`
	InputAudioTranscription *realtimeTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection       *realtimeTurnDetection    `json:"turn_detection,omitempty"`
}

type realtimeTranscription struct {
	Model string `json:"model"`
}

type realtimeTurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs    int    `json:"prefix_padding_ms"`
	SilenceDurationMs  int    `json:"silence_duration_ms"`
}

type realtimeResponseCreate struct {
	Type string `json:"type"`
}

type realtimeInputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// realtimeServerEvent is the envelope for every inference->bridge frame.
// Only the fields a given event.type uses are populated.
type realtimeServerEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ConnectToInference dials the realtime-inference WebSocket, configures the
// session, loads call context into the instructions, and prompts the
// opening greeting. It resolves once the session is fully configured.
func (s *Session) ConnectToInference(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, inferenceConnectTimeout)
	defer cancel()

	wsURL := fmt.Sprintf("wss://api.openai.com/v1/realtime?model=%s", url.QueryEscape(s.cfg.OpenAIRealtimeModel))

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+s.cfg.OpenAIAPIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: inferenceConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("connect to inference: %w: %w", apperrors.ErrInferenceUnreachable, err)
	}
	s.inferenceConn = conn

	instructions := s.cfg.Instructions
	if ctxBlock := s.loadContextBlock(ctx); ctxBlock != "" {
		instructions = instructions + "\n\n" + ctxBlock
	}

	sessionUpdate := realtimeSessionUpdate{
		Type: "session.update",
		Session: realtimeSessionConfig{
			Modalities:        []string{"text", "audio"},
			Voice:             s.cfg.OpenAIVoice,
			Instructions:      instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			InputAudioTranscription: &realtimeTranscription{
				Model: "whisper-1",
			},
			TurnDetection: &realtimeTurnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 500,
			},
		},
	}
	if err := s.writeInference(sessionUpdate); err != nil {
		conn.Close()
		return fmt.Errorf("configure inference session: %w: %w", apperrors.ErrInferenceUnreachable, err)
	}

	if err := s.writeInference(realtimeResponseCreate{Type: "response.create"}); err != nil {
		conn.Close()
		return fmt.Errorf("prompt opening greeting: %w: %w", apperrors.ErrInferenceUnreachable, err)
	}

	go s.inferenceReadLoop()
	go s.carrierWriteLoop()
	return nil
}

// loadContextBlock fetches the call's planning context (if any) and renders
// it as a plain-text block to append to the agent instructions.
func (s *Session) loadContextBlock(ctx context.Context) string {
	cc, err := s.store.GetCallContext(ctx, s.callID)
	if err != nil || cc == nil {
		return ""
	}
	block := fmt.Sprintf("Call goal: %s (%s) for %s.", cc.IntentPurpose, cc.IntentCategory, cc.CompanyName)
	for k, v := range cc.GatheredInfo {
		block += fmt.Sprintf(" %s: %s.", k, v)
	}
	return block
}

// AttachCarrierSocket sets the carrier media WebSocket. Idempotent: a
// second call is a no-op once a connection is already attached.
func (s *Session) AttachCarrierSocket(ws *websocket.Conn) {
	s.carrierMu.Lock()
	defer s.carrierMu.Unlock()
	if s.carrierConn != nil {
		return
	}
	s.carrierConn = ws
}

type carrierFrame struct {
	Event string `json:"event"`
	Media struct {
		Payload string `json:"payload"`
		Track   string `json:"track"`
	} `json:"media"`
}

// HandleCarrierMessage processes one inbound frame from the carrier media
// socket.
func (s *Session) HandleCarrierMessage(raw []byte) {
	var frame carrierFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.logger.Warnf("carrier frame: invalid json: %v", err)
		return
	}

	switch frame.Event {
	case "start":
		s.logger.Infof("carrier stream started")
	case "stop":
		s.logger.Infof("carrier stream stopped")
		s.Cleanup()
	case "media":
		s.forwardCarrierAudioToInference(frame.Media.Payload)
	default:
		s.logger.Debugf("carrier frame: unhandled event %q", frame.Event)
	}
}

func (s *Session) forwardCarrierAudioToInference(b64Payload string) {
	if s.inferenceConn == nil {
		return // silently drop — inference not connected yet
	}

	mulawBytes, err := base64.StdEncoding.DecodeString(b64Payload)
	if err != nil {
		s.logger.Warnf("carrier media: invalid base64: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nSamples := len(mulawBytes)
	s.pcmScratch = ensureInt16Cap(s.pcmScratch, nSamples)
	pcm8k := s.pcmScratch[:nSamples]
	s.mulawPCMScratch = ensureByteCap(s.mulawPCMScratch, nSamples*2)
	decodeMulawToInt16(pcm8k, mulawBytes, s.mulawPCMScratch[:nSamples*2])

	outLen := codec.ResampleLen(nSamples, carrierSampleRate, inferenceSampleRate)
	s.resampScratch = ensureInt16Cap(s.resampScratch, outLen)
	pcm24k := s.resampScratch[:outLen]
	codec.ResampleInt16(pcm24k, pcm8k, carrierSampleRate, inferenceSampleRate)

	s.byteScratch = ensureByteCap(s.byteScratch, outLen*2)
	pcmBytes := s.byteScratch[:outLen*2]
	int16ToLittleEndianBytes(pcmBytes, pcm24k)

	audioB64 := base64.StdEncoding.EncodeToString(pcmBytes)
	if err := s.writeInference(realtimeInputAudioAppend{Type: "input_audio_buffer.append", Audio: audioB64}); err != nil {
		s.logger.Warnf("forward audio to inference: %v", err)
	}
}

// inferenceReadLoop drains the inference socket until it closes or errors.
func (s *Session) inferenceReadLoop() {
	defer s.Cleanup()
	for {
		select {
		case <-s.done:
			return
		default:
		}
		_, message, err := s.inferenceConn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.cb.OnError(fmt.Errorf("inference read: %w: %w", apperrors.ErrInferenceUnreachable, err))
			}
			return
		}
		s.handleInferenceMessage(message)
	}
}

// handleInferenceMessage dispatches one inference server event.
func (s *Session) handleInferenceMessage(raw []byte) {
	var evt realtimeServerEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		s.logger.Warnf("inference frame: invalid json: %v", err)
		return
	}

	switch evt.Type {
	case "response.audio.delta":
		s.forwardInferenceAudioToCarrier(evt.Delta)
	case "conversation.item.input_audio_transcription.completed":
		s.emitTranscript(model.SpeakerRemote, evt.Transcript)
	case "response.audio_transcript.done":
		s.emitTranscript(model.SpeakerAgent, evt.Transcript)
	case "error":
		msg := "inference error"
		if evt.Error != nil {
			msg = evt.Error.Message
		}
		s.cb.OnError(fmt.Errorf("%s: %w", msg, apperrors.ErrInferenceUnreachable))
	case "session.created", "session.updated", "response.done",
		"input_audio_buffer.speech_started", "input_audio_buffer.speech_stopped":
		s.logger.Debugf("inference event: %s", evt.Type)
	default:
		// unknown types ignored
	}
}

func (s *Session) emitTranscript(speaker model.Speaker, text string) {
	if text == "" {
		return
	}
	select {
	case <-s.done:
		return // never fire onTranscript after onEnd
	default:
	}

	confidence := 1.0
	_ = s.store.InsertTranscription(context.Background(), &model.Transcription{
		CallID:     s.callID,
		Speaker:    speaker,
		Text:       text,
		Timestamp:  time.Now(),
		Confidence: &confidence,
		Final:      true,
	})
	s.cb.OnTranscript(speaker, text)
}

func (s *Session) forwardInferenceAudioToCarrier(b64Payload string) {
	if b64Payload == "" {
		return
	}
	pcmBytes, err := base64.StdEncoding.DecodeString(b64Payload)
	if err != nil {
		s.logger.Warnf("inference audio: invalid base64: %v", err)
		return
	}

	s.mu.Lock()
	nSamples := len(pcmBytes) / 2
	pcm24k := make([]int16, nSamples) // fresh slice: concurrent with the carrier-side scratch buffers above
	littleEndianBytesToInt16(pcm24k, pcmBytes)

	outLen := codec.ResampleLen(nSamples, inferenceSampleRate, carrierSampleRate)
	pcm8k := make([]int16, outLen)
	codec.ResampleInt16(pcm8k, pcm24k, inferenceSampleRate, carrierSampleRate)
	s.mu.Unlock()

	mulawBytes := make([]byte, outLen)
	codec.PCM16ToMulaw(mulawBytes, int16SliceToBytes(pcm8k))

	frame, err := json.Marshal(map[string]interface{}{
		"event": "media",
		"media": map[string]string{
			"track":   "outbound",
			"payload": base64.StdEncoding.EncodeToString(mulawBytes),
		},
	})
	if err != nil {
		return
	}

	select {
	case s.outboundAudio <- frame:
	default:
		// queue full: drop oldest to bound carrier-bound latency to
		// roughly outboundQueueDepth frames (spec.md §9 backpressure).
		select {
		case <-s.outboundAudio:
		default:
		}
		select {
		case s.outboundAudio <- frame:
		default:
		}
	}
}

// carrierWriteLoop drains outboundAudio to the carrier socket, holding
// carrierMu for each write so it is serialized with AttachCarrierSocket and
// Cleanup.
func (s *Session) carrierWriteLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.outboundAudio:
			s.carrierMu.Lock()
			conn := s.carrierConn
			if conn != nil {
				_ = conn.WriteMessage(websocket.TextMessage, frame)
			}
			s.carrierMu.Unlock()
		}
	}
}

func (s *Session) writeInference(v interface{}) error {
	s.inferenceMu.Lock()
	defer s.inferenceMu.Unlock()
	if s.inferenceConn == nil {
		return fmt.Errorf("inference connection not established")
	}
	return s.inferenceConn.WriteJSON(v)
}

// Cleanup idempotently closes both sockets and fires onEnd exactly once.
func (s *Session) Cleanup() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.inferenceMu.Lock()
		if s.inferenceConn != nil {
			s.inferenceConn.Close()
		}
		s.inferenceMu.Unlock()

		s.carrierMu.Lock()
		if s.carrierConn != nil {
			s.carrierConn.Close()
		}
		s.carrierMu.Unlock()

		s.cb.OnEnd()
	})
}

func ensureInt16Cap(buf []int16, n int) []int16 {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]int16, n)
}

func ensureByteCap(buf []byte, n int) []byte {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]byte, n)
}

// decodeMulawToInt16 writes src's μ-law samples into dst as PCM16, using
// scratch (caller-sized to len(src)*2) as the intermediate byte buffer
// instead of allocating one per frame (spec.md §4.1).
func decodeMulawToInt16(dst []int16, src []byte, scratch []byte) {
	codec.MulawToPCM16(scratch, src)
	littleEndianBytesToInt16(dst, scratch)
}

func int16ToLittleEndianBytes(dst []byte, src []int16) {
	for i, v := range src {
		dst[i*2] = byte(uint16(v))
		dst[i*2+1] = byte(uint16(v) >> 8)
	}
}

func littleEndianBytesToInt16(dst []int16, src []byte) {
	for i := range dst {
		dst[i] = int16(uint16(src[i*2]) | uint16(src[i*2+1])<<8)
	}
}

func int16SliceToBytes(src []int16) []byte {
	out := make([]byte, len(src)*2)
	int16ToLittleEndianBytes(out, src)
	return out
}
