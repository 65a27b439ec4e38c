package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sopworks/sop-api/internal/models"
)

// OllamaConfig tunes the engine client.
type OllamaConfig struct {
	BaseURL string
	Model   string
	// Temperature kept low for consistent procedural output.
	Temperature float64
}

// OllamaEngine generates SOP content through an Ollama-compatible HTTP API.
// The engine is stateless per call; the caller bounds each attempt with a
// context deadline and owns all retry and persistence decisions.
type OllamaEngine struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
	logger      *zap.Logger
	now         func() time.Time
}

// NewOllamaEngine constructs an engine client.
func NewOllamaEngine(cfg OllamaConfig, client *http.Client, logger *zap.Logger) *OllamaEngine {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	return &OllamaEngine{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      client,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Generate calls the engine and returns a snapshot with one body per
// requested section; sections the model dropped come back as marked
// placeholders rather than being removed.
func (e *OllamaEngine) Generate(ctx context.Context, input Input) (*models.ContentSnapshot, error) {
	if len(input.Sections) == 0 {
		return nil, &EngineError{Kind: KindEngineRejected, Message: "no sections requested"}
	}

	payload := generateRequest{
		Model:  e.model,
		Prompt: buildPrompt(input),
		Stream: false,
		Options: map[string]interface{}{
			"temperature": e.temperature,
			"num_predict": 4000,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &EngineError{Kind: KindEngineRejected, Message: "encode generation request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &EngineError{Kind: KindEngineRejected, Message: "build generation request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &EngineError{Kind: KindEngineUnavailable, Message: fmt.Sprintf("engine returned %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &EngineError{Kind: KindEngineRejected, Message: fmt.Sprintf("engine rejected request with %d: %s", resp.StatusCode, truncate(string(raw), 200))}
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &EngineError{Kind: KindEngineRejected, Message: "decode generation response", Err: err}
	}
	if decoded.Error != "" {
		return nil, &EngineError{Kind: KindEngineRejected, Message: decoded.Error}
	}
	if strings.TrimSpace(decoded.Response) == "" {
		return nil, &EngineError{Kind: KindEngineRejected, Message: "empty response from engine"}
	}

	produced := parseSections(decoded.Response, input.Sections)
	snapshot := fillMissingSections(input.Sections, produced, e.model, e.now())

	e.logger.Sugar().Infow("generation completed",
		"model", e.model,
		"sections_requested", len(input.Sections),
		"sections_produced", len(produced),
		"duration", time.Since(start),
	)
	return snapshot, nil
}

// Healthy probes the engine's model listing endpoint.
func (e *OllamaEngine) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return &EngineError{Kind: KindEngineUnavailable, Message: fmt.Sprintf("engine returned %d", resp.StatusCode)}
	}
	return nil
}

// Name identifies the generating engine on snapshots.
func (e *OllamaEngine) Name() string { return e.model }

func classifyTransportError(ctx context.Context, err error) *EngineError {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return &EngineError{Kind: KindCancelled, Message: "generation cancelled", Err: err}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &EngineError{Kind: KindEngineTimeout, Message: "generation deadline exceeded", Err: err}
	default:
		return &EngineError{Kind: KindEngineUnavailable, Message: "engine unreachable", Err: err}
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
