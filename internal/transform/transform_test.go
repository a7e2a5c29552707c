package transform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/promptline/promptline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUserPrompt(t *testing.T) {
	assert.Equal(t, "raw idea", BuildUserPrompt(Input{Content: "raw idea"}))

	out := BuildUserPrompt(Input{
		Content: "add billing page",
		Knowledge: []*types.KnowledgeItem{
			{Title: "Stack", Category: "tech", Content: "Go + Postgres"},
			nil,
			{Title: "Tone"},
		},
	})
	assert.Contains(t, out, "## Stack (tech)\nGo + Postgres")
	assert.Contains(t, out, "## Tone\n")
	assert.True(t, strings.HasSuffix(out, "Raw idea:\n\nadd billing page"))
}

func TestClaudeTransform(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "# Billing page\n-> Main features"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 8}
		}`)
	}))
	defer server.Close()

	c, err := NewClaude(ProviderConfig{APIKey: "test-key", BaseURL: server.URL, Model: "claude-test"})
	require.NoError(t, err)

	res, err := c.Transform(context.Background(), Input{Content: "add billing page"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "# Billing page\n-> Main features", res.Text)
	assert.Equal(t, "claude-test", got["model"])
}

func TestClaudeTransformAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`)
	}))
	defer server.Close()

	c, err := NewClaude(ProviderConfig{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = c.Transform(context.Background(), Input{Content: "x"})
	assert.Error(t, err)
}

func TestClaudeRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewClaude(ProviderConfig{})
	assert.Error(t, err)
}

func TestGeminiTransform(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-test:generateContent")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"# Refined"}]}}]}`)
	}))
	defer server.Close()

	g, err := NewGemini(context.Background(), ProviderConfig{APIKey: "k", BaseURL: server.URL, Model: "gemini-test"})
	require.NoError(t, err)

	res, err := g.Transform(context.Background(), Input{Content: "idea"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "# Refined", res.Text)
}

func TestOpenAITransform(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, ModelOpenAI, req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"  # Structured  "}}]}`)
	}))
	defer server.Close()

	o, err := NewOpenAI(ProviderConfig{APIKey: "sk-test", BaseURL: server.URL + "/"})
	require.NoError(t, err)

	res, err := o.Transform(context.Background(), Input{Content: "idea"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "# Structured", res.Text)
}

func TestOpenAIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   string
		wantFalse bool
	}{
		{name: "api error", status: 401, body: `{"error":{"message":"invalid key"}}`, wantErr: "invalid key"},
		{name: "garbage error", status: 502, body: `<html>`, wantErr: "unknown error"},
		{name: "empty choices", status: 200, body: `{"choices":[]}`, wantFalse: true},
		{name: "blank content", status: 200, body: `{"choices":[{"message":{"content":"  "}}]}`, wantFalse: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			o, err := NewOpenAI(ProviderConfig{APIKey: "k", BaseURL: server.URL})
			require.NoError(t, err)
			res, err := o.Transform(context.Background(), Input{Content: "x"})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Error)
		})
	}
}

type stubTransformer struct {
	calls atomic.Int32
	fn    func(ctx context.Context) (*Result, error)
}

func (s *stubTransformer) Transform(ctx context.Context, in Input) (*Result, error) {
	s.calls.Add(1)
	return s.fn(ctx)
}

func TestGuardedOpensCircuitWithoutRetrying(t *testing.T) {
	stub := &stubTransformer{fn: func(ctx context.Context) (*Result, error) {
		return nil, errors.New("503 service unavailable")
	}}
	g := NewGuarded(types.ProviderOpenAI, stub, GuardConfig{
		CircuitBreakerEnabled: true,
		FailureThreshold:      2,
		SuccessThreshold:      1,
		OpenTimeout:           time.Hour,
	}, nil)

	for i := 0; i < 2; i++ {
		_, err := g.Transform(context.Background(), Input{Content: "x"})
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), stub.calls.Load(), "each call reaches the provider exactly once")
	assert.Equal(t, CircuitOpen, g.Breaker().State())

	_, err := g.Transform(context.Background(), Input{Content: "x"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestGuardedLimitsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	stub := &stubTransformer{fn: func(ctx context.Context) (*Result, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return &Result{Success: true, Text: "ok"}, nil
	}}
	g := NewGuarded(types.ProviderClaude, stub, GuardConfig{MaxConcurrentCalls: 2}, nil)

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = g.Transform(context.Background(), Input{Content: "x"})
			done <- struct{}{}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	for i := 0; i < 5; i++ {
		<-done
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestCircuitBreakerRecovers(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(1, 2, time.Minute, nil)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestSetAndNewProvider(t *testing.T) {
	set := BuildSet(context.Background(), map[types.Provider]ProviderConfig{
		types.ProviderOpenAI: {APIKey: "k"},
	}, DefaultGuardConfig(), nil)

	_, err := set.Get(types.ProviderOpenAI)
	assert.NoError(t, err)
	_, err = set.Get(types.ProviderGemini)
	assert.True(t, types.IsValidation(err))

	_, err = NewProvider(context.Background(), types.ProviderCursor, ProviderConfig{APIKey: "k"})
	assert.True(t, types.IsValidation(err))
}
