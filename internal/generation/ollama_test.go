package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sopworks/sop-api/internal/models"
)

func testInput() Input {
	return Input{
		Title:       "Equipment Cleaning SOP",
		Description: "Cleaning procedure for granulation equipment",
		Department:  models.DepartmentProduction,
		Sections: []models.SectionRequest{
			{Title: "Purpose"},
			{Title: "Scope"},
			{Title: "Procedure"},
		},
		Frameworks: []models.RegulatoryFramework{models.FrameworkFDA21CFR211},
	}
}

func newEngineForTest(t *testing.T, handler http.HandlerFunc) (*OllamaEngine, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	engine := NewOllamaEngine(OllamaConfig{BaseURL: server.URL, Model: "test-model"}, server.Client(), nil)
	return engine, server.Close
}

func TestOllamaEngineGenerate(t *testing.T) {
	engine, cleanup := newEngineForTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Contains(t, req.Prompt, "Equipment Cleaning SOP")

		resp := generateResponse{Response: "1. Purpose\nDefine the cleaning procedure.\n2. Scope\nApplies to granulation suite.\n3. Procedure\nDisassemble and clean all parts."}
		_ = json.NewEncoder(w).Encode(resp)
	})
	defer cleanup()

	snapshot, err := engine.Generate(context.Background(), testInput())
	require.NoError(t, err)
	require.Equal(t, 3, snapshot.SectionCount)
	assert.Equal(t, "Purpose", snapshot.Sections[0].Title)
	assert.Equal(t, "Define the cleaning procedure.", snapshot.Sections[0].Body)
	assert.False(t, snapshot.Sections[0].Placeholder)
	assert.Equal(t, "test-model", snapshot.Engine)
	assert.Greater(t, snapshot.WordCount, 0)
}

func TestOllamaEngineSynthesizesMissingSections(t *testing.T) {
	engine, cleanup := newEngineForTest(t, func(w http.ResponseWriter, r *http.Request) {
		resp := generateResponse{Response: "1. Purpose\nDefine the cleaning procedure."}
		_ = json.NewEncoder(w).Encode(resp)
	})
	defer cleanup()

	snapshot, err := engine.Generate(context.Background(), testInput())
	require.NoError(t, err)
	require.Equal(t, 3, snapshot.SectionCount)
	assert.False(t, snapshot.Sections[0].Placeholder)
	assert.True(t, snapshot.Sections[1].Placeholder)
	assert.True(t, snapshot.Sections[2].Placeholder)
	assert.Equal(t, PlaceholderBody, snapshot.Sections[1].Body)
}

func TestOllamaEngineServerError(t *testing.T) {
	engine, cleanup := newEngineForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer cleanup()

	_, err := engine.Generate(context.Background(), testInput())
	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, KindEngineUnavailable, engineErr.Kind)
	assert.True(t, engineErr.Retryable())
}

func TestOllamaEngineRejectedNotRetryable(t *testing.T) {
	engine, cleanup := newEngineForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad prompt"))
	})
	defer cleanup()

	_, err := engine.Generate(context.Background(), testInput())
	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, KindEngineRejected, engineErr.Kind)
	assert.False(t, engineErr.Retryable())
}

func TestOllamaEngineTimeout(t *testing.T) {
	engine, cleanup := newEngineForTest(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "1. Purpose\nLate."})
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := engine.Generate(ctx, testInput())
	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, KindEngineTimeout, engineErr.Kind)
	assert.True(t, engineErr.Retryable())
}

func TestOllamaEngineCancelled(t *testing.T) {
	engine, cleanup := newEngineForTest(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := engine.Generate(ctx, testInput())
	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, KindCancelled, engineErr.Kind)
}

func TestOllamaEngineEmptyResponse(t *testing.T) {
	engine, cleanup := newEngineForTest(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "   "})
	})
	defer cleanup()

	_, err := engine.Generate(context.Background(), testInput())
	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, KindEngineRejected, engineErr.Kind)
}

func TestOllamaEngineNoSectionsRejected(t *testing.T) {
	engine := NewOllamaEngine(OllamaConfig{BaseURL: "http://localhost:1"}, nil, nil)
	_, err := engine.Generate(context.Background(), Input{Title: "x"})
	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, KindEngineRejected, engineErr.Kind)
}

func TestParseSectionsHandlesMarkdownHeaders(t *testing.T) {
	sections := []models.SectionRequest{{Title: "Purpose"}, {Title: "Scope"}}
	produced := parseSections("## 1. Purpose\nWhy we clean.\n\n**2. Scope**\nAll suites.", sections)
	assert.Equal(t, "Why we clean.", produced["purpose"])
	assert.Equal(t, "All suites.", produced["scope"])
}
