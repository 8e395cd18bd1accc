// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rapidaai/voicebridge/internal/apperrors"
	"github.com/rapidaai/voicebridge/internal/bridgeserver"
	"github.com/rapidaai/voicebridge/internal/callflow"
	"github.com/rapidaai/voicebridge/internal/carrier"
	"github.com/rapidaai/voicebridge/internal/config"
	"github.com/rapidaai/voicebridge/internal/datastore"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/recap"
	"github.com/rapidaai/voicebridge/internal/session"
	"github.com/rapidaai/voicebridge/internal/summarizer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("voicebridge: %v: %v", apperrors.ErrConfiguration, err)
	}

	logger, err := logging.New("voicebridge", cfg.LogLevel, cfg.LogPath)
	if err != nil {
		log.Fatalf("voicebridge: failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.SupabaseURL), &gorm.Config{})
	if err != nil {
		logger.Fatalf("voicebridge: connect to datastore: %v", err)
	}
	store := datastore.NewGormAdapter(gdb)

	carrierClient := carrier.New(cfg.TelnyxAPIKey, cfg.TelnyxConnectionID, cfg.TelnyxPhoneNumber, logger)
	summarizerClient := summarizer.New(cfg.OpenAIAPIKey)
	recapPipeline := recap.New(store, summarizerClient, logger)

	sessionCfg := session.Config{
		OpenAIAPIKey:        cfg.OpenAIAPIKey,
		OpenAIRealtimeModel: cfg.OpenAIRealtimeModel,
		OpenAIVoice:         cfg.OpenAIVoice,
		Instructions:        cfg.VoiceAgentInstructions,
	}

	var agentTrigger callflow.AgentTrigger
	if !cfg.RealtimeModeEnabled() {
		agentTrigger = newLegacyAgentTrigger(logger)
	}

	webhookHandler := callflow.New(store, carrierClient, agentTrigger, logger, callflow.Config{
		BridgeHost:     cfg.BridgeHost,
		RealtimeModeOn: cfg.RealtimeModeEnabled(),
	})

	server := bridgeserver.New(store, logger, cfg.BridgeHost, sessionCfg)
	registerWebhookAndOpsRoutes(server.Engine(), webhookHandler, recapPipeline, store, cfg, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Engine(),
	}

	go func() {
		logger.Infof("voicebridge listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("voicebridge: server error: %v", err)
		}
	}()

	waitForShutdown(httpServer, logger)
}

// registerWebhookAndOpsRoutes wires the carrier webhook and the
// bearer-gated cleanup sweep onto the bridge server's gin engine.
func registerWebhookAndOpsRoutes(engine *gin.Engine, wh *callflow.Handler, rp *recap.Pipeline, store datastore.Adapter, cfg *config.Config, logger logging.Logger) {
	engine.POST("/webhook/telnyx", func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"received": false})
			return
		}
		wh.HandleWebhook(c.Request.Context(), body)
		c.JSON(http.StatusOK, gin.H{"received": true})
	})
	engine.GET("/webhook/telnyx", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	engine.GET("/v1/calls/:call_id/card", func(c *gin.Context) {
		card, err := rp.Run(c.Request.Context(), recap.Request{CallID: c.Param("call_id"), FetchOnly: true})
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, card)
	})

	engine.GET("/v1/calls/:call_id/events", func(c *gin.Context) {
		events, err := store.ListCallEvents(c.Request.Context(), c.Param("call_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	engine.POST("/internal/cleanup", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+cfg.CronSecret {
			c.JSON(http.StatusUnauthorized, gin.H{"error": apperrors.ErrUnauthorized.Error()})
			return
		}
		ids, err := store.ListCallsWithExpiredTranscripts(c.Request.Context(), 90)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		for _, id := range ids {
			if err := store.DeleteTranscriptionsForCall(c.Request.Context(), id); err != nil {
				logger.Warnf("cleanup: delete transcriptions for call %s: %v", id, err)
			}
		}
		c.JSON(http.StatusOK, gin.H{"cleaned": len(ids)})
	})
}

func waitForShutdown(httpServer *http.Server, logger logging.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("voicebridge: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("voicebridge: graceful shutdown failed: %v", err)
	}
}

// legacyAgentTrigger posts per-turn agent triggers over HTTP in legacy
// (non-realtime) mode. It is a thin placeholder call-flow partner: the
// downstream conversational-agent HTTP endpoint is operated by a separate
// service deployed alongside voicebridge.
type legacyAgentTrigger struct {
	logger logging.Logger
	client *http.Client
}

func newLegacyAgentTrigger(logger logging.Logger) *legacyAgentTrigger {
	return &legacyAgentTrigger{logger: logger, client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *legacyAgentTrigger) TriggerAgent(ctx context.Context, callID string, opts callflow.AgentTriggerOptions) error {
	body, _ := json.Marshal(map[string]interface{}{
		"call_id":     callID,
		"is_opening":  opts.IsOpening,
		"is_reprompt": opts.IsReprompt,
		"text":        opts.Text,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://localhost:8081/v1/agent/turn", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warnf("legacy agent trigger for call %s: %v", callID, err)
		return err
	}
	defer resp.Body.Close()
	return nil
}
