package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/promptline/promptline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMapIsTotal(t *testing.T) {
	m := NewStatusMap()
	for provider, vocab := range defaultVocabulary {
		for raw, want := range vocab {
			got, err := m.Map(provider, "agent-1", raw)
			require.NoError(t, err, "%s %s", provider, raw)
			assert.Equal(t, want, got)
			assert.True(t, got.Status.IsValid())
			if got.Failed {
				assert.True(t, got.Terminal, "%s %s: failures end the run", provider, raw)
				assert.Equal(t, types.StatusTodo, got.Status)
			}
		}
	}

	got, err := m.Map(types.ProviderCursor, "agent-1", "SOMETHING_NEW")
	assert.Equal(t, UnknownMapping, got)
	var extErr *types.ExternalStateError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, "SOMETHING_NEW", extErr.RawStatus)
	assert.Equal(t, types.StatusInProgress, got.Status)
}

func TestStatusMapLookupIgnoresCase(t *testing.T) {
	m := NewStatusMap()
	tests := []struct {
		provider types.Provider
		raw      string
		want     types.Status
		terminal bool
	}{
		{types.ProviderCursor, "RUNNING", types.StatusInProgress, false},
		{types.ProviderCursor, " running ", types.StatusInProgress, false},
		{types.ProviderCursor, "Finished", types.StatusDone, true},
		{types.ProviderCursor, "EXPIRED", types.StatusTodo, true},
		{types.ProviderClaude, "cloning_repo", types.StatusInProgress, false},
		{types.ProviderClaude, "COMPLETED", types.StatusDone, true},
		{types.ProviderClaude, "queued", types.StatusSentToAgent, false},
	}
	for _, tt := range tests {
		got, ok := m.Lookup(tt.provider, tt.raw)
		require.True(t, ok, tt.raw)
		assert.Equal(t, tt.want, got.Status, tt.raw)
		assert.Equal(t, tt.terminal, m.IsTerminal(tt.provider, tt.raw), tt.raw)
	}

	_, ok := m.Lookup(types.ProviderClaude, "RUNNING")
	assert.False(t, ok, "vocabularies are per provider")
}

func TestStatusMapLoadYAML(t *testing.T) {
	m := NewStatusMap()
	require.NoError(t, m.LoadYAML([]byte(`
cursor:
  AWAITING_REVIEW: {status: in_progress}
  MERGED: {status: done, terminal: true}
claude:
  failed: {status: todo, terminal: true, failed: true}
`)))

	got, ok := m.Lookup(types.ProviderCursor, "awaiting_review")
	require.True(t, ok)
	assert.Equal(t, types.StatusInProgress, got.Status)
	assert.True(t, m.IsTerminal(types.ProviderCursor, "MERGED"))
	assert.Contains(t, m.Vocabulary(types.ProviderCursor), "merged")

	assert.Error(t, m.LoadYAML([]byte("cursor:\n  X: {status: shipped}\n")))
	assert.Error(t, m.LoadYAML([]byte("gemini:\n  X: {status: done}\n")))
	assert.Error(t, m.LoadYAML([]byte("[not a map")))
}

func TestCursorCreateAgent(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v0/agents", r.URL.Path)
		assert.Equal(t, "Bearer cur-key", r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(data, &body))

		io.WriteString(w, `{
			"id": "bc_123", "name": "Billing", "status": "CREATING",
			"source": {"repository": "https://github.com/acme/shop", "ref": "main"},
			"target": {"branchName": "cursor/billing", "url": "https://cursor.com/agents?id=bc_123", "autoCreatePr": true},
			"createdAt": "2025-01-02T03:04:05Z"
		}`)
	}))
	defer server.Close()

	c, err := NewCursor(ClientConfig{APIKey: "cur-key", BaseURL: server.URL})
	require.NoError(t, err)

	a, err := c.CreateAgent(context.Background(), Request{
		Text:         "# Billing",
		Repository:   "https://github.com/acme/shop",
		AutoCreatePR: true,
		WebhookURL:   "https://hooks.example.com/webhooks/cursor",
	})
	require.NoError(t, err)
	assert.Equal(t, "bc_123", a.ID)
	assert.Equal(t, "CREATING", a.Status)
	assert.Equal(t, "cursor/billing", a.BranchName)
	assert.Equal(t, "https://cursor.com/agents?id=bc_123", a.URL)

	assert.Equal(t, map[string]interface{}{"text": "# Billing"}, body["prompt"])
	assert.Equal(t, map[string]interface{}{"repository": "https://github.com/acme/shop", "ref": "main"}, body["source"])
	assert.Equal(t, DefaultCursorModel, body["model"])
	assert.Equal(t, map[string]interface{}{"autoCreatePr": true}, body["target"])
	assert.Equal(t, map[string]interface{}{"url": "https://hooks.example.com/webhooks/cursor"}, body["webhook"])
}

func TestCursorErrorClasses(t *testing.T) {
	tests := []struct {
		status int
		body   string
		class  ErrorClass
		msg    string
	}{
		{401, `{"error":"Invalid API key"}`, ClassAuthMissing, "Invalid API key"},
		{403, `{"error":{"message":"no access"}}`, ClassForbidden, "no access"},
		{429, `{"message":"slow down"}`, ClassRateLimited, "slow down"},
		{400, `repository is required`, ClassBadRequest, "repository is required"},
		{404, ``, ClassNotFound, "unknown error"},
		{502, `<html>bad gateway</html>`, ClassServer, "unknown error"},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			io.WriteString(w, tt.body)
		}))
		c, err := NewCursor(ClientConfig{APIKey: "k", BaseURL: server.URL})
		require.NoError(t, err)

		_, err = c.GetAgent(context.Background(), "bc_1")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "status %d", tt.status)
		assert.Equal(t, tt.class, apiErr.Class)
		assert.Equal(t, tt.status, apiErr.StatusCode)
		assert.Equal(t, tt.msg, apiErr.Message)
		assert.Equal(t, tt.class, ClassOf(err))
		server.Close()
	}

	assert.Equal(t, ClassServer, ClassOf(errors.New("dial tcp: refused")))
}

func TestCursorCancelAndGet(t *testing.T) {
	var cancelled bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v0/agents/bc_9/cancel":
			cancelled = true
			io.WriteString(w, `{"id":"bc_9"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v0/agents/bc_9":
			io.WriteString(w, `{"id":"bc_9","status":"FINISHED","target":{"branchName":"b","prUrl":"https://github.com/acme/shop/pull/7"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c, err := NewCursor(ClientConfig{APIKey: "k", BaseURL: server.URL + "/"})
	require.NoError(t, err)

	require.NoError(t, c.CancelAgent(context.Background(), "bc_9"))
	assert.True(t, cancelled)

	a, err := c.GetAgent(context.Background(), "bc_9")
	require.NoError(t, err)
	assert.Equal(t, "FINISHED", a.Status)
	assert.Equal(t, "https://github.com/acme/shop/pull/7", a.PullRequestURL)
}

func TestClaudeAgentSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "claude-key", r.Header.Get("X-Api-Key"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions":
			var req claudeSessionRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "do the thing", req.Prompt)
			assert.Equal(t, DefaultClaudeAgentModel, req.Config.Model)
			assert.Equal(t, "develop", req.Config.Branch)
			assert.True(t, req.Config.CreatePR)
			io.WriteString(w, `{"sessionId":"sess-1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/sessions/sess-1":
			io.WriteString(w, `{"sessionId":"sess-1","status":"failed","error_message":"clone failed"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/sessions":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c, err := NewClaudeAgent(ClientConfig{APIKey: "claude-key", BaseURL: server.URL})
	require.NoError(t, err)

	a, err := c.CreateAgent(context.Background(), Request{Text: "do the thing", Repository: "https://github.com/acme/shop", Ref: "develop", AutoCreatePR: true})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", a.ID)
	assert.Equal(t, "queued", a.Status)

	a, err = c.GetAgent(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", a.Status)
	assert.Equal(t, "clone failed", a.Error)

	assert.Equal(t, ClassAuthMissing, ClassOf(c.ValidateCredential(context.Background())))
}

func TestMissingKey(t *testing.T) {
	_, err := NewCursor(ClientConfig{})
	assert.Equal(t, ClassAuthMissing, ClassOf(err))
	_, err = NewClaudeAgent(ClientConfig{})
	assert.Equal(t, ClassAuthMissing, ClassOf(err))

	factories := Factories(nil)
	require.Contains(t, factories, types.ProviderCursor)
	p, err := factories[types.ProviderClaude]("k")
	require.NoError(t, err)
	assert.Equal(t, types.ProviderClaude, p.Name())
}

func TestGuidance(t *testing.T) {
	title, detail := Guidance(types.ProviderCursor, ClassAuthMissing)
	assert.Equal(t, "Invalid Cursor API key", title)
	assert.Contains(t, detail, "promptline credentials set cursor")

	title, _ = Guidance(types.ProviderClaude, ClassRateLimited)
	assert.Equal(t, "Rate limit exceeded", title)
}

func TestProviderLabel(t *testing.T) {
	assert.Equal(t, "Cursor", ProviderLabel(types.ProviderCursor))
	assert.Equal(t, "Claude", ProviderLabel(types.ProviderClaude))
	assert.Equal(t, "gemini", ProviderLabel(types.ProviderGemini))
}
