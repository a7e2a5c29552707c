package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/promptline/promptline/internal/types"
	"gopkg.in/yaml.v3"
)

// Mapping is where one raw provider status lands
type Mapping struct {
	Status types.Status `yaml:"status"`
	// Terminal: the remote run is over and polling can stop
	Terminal bool `yaml:"terminal"`
	// Failed: the run ended without producing work (failure, cancel, timeout)
	Failed bool `yaml:"failed"`
}

// UnknownMapping is used for any raw status missing from the table
var UnknownMapping = Mapping{Status: types.StatusInProgress}

var (
	queued  = Mapping{Status: types.StatusSentToAgent}
	working = Mapping{Status: types.StatusInProgress}
	success = Mapping{Status: types.StatusDone, Terminal: true}
	failed  = Mapping{Status: types.StatusTodo, Terminal: true, Failed: true}
)

// defaultVocabulary is the known status vocabulary of each agent provider
var defaultVocabulary = map[types.Provider]map[string]Mapping{
	types.ProviderCursor: {
		"CREATING":  queued,
		"PENDING":   queued,
		"QUEUED":    queued,
		"RUNNING":   working,
		"FINISHED":  success,
		"COMPLETED": success,
		"FAILED":    failed,
		"CANCELLED": failed,
		"TIMEOUT":   failed,
		"EXPIRED":   failed,
	},
	types.ProviderClaude: {
		"queued":             queued,
		"initializing":       queued,
		"cloning_repo":       working,
		"executing_claude":   working,
		"processing_files":   working,
		"committing_changes": working,
		"creating_pr":        working,
		"completed":          success,
		"failed":             failed,
		"cancelled":          failed,
	},
}

// StatusMap maps raw provider statuses to prompt statuses. Lookups ignore
// case and surrounding whitespace.
type StatusMap struct {
	mu      sync.RWMutex
	entries map[types.Provider]map[string]Mapping
}

// NewStatusMap returns a table holding the default vocabularies
func NewStatusMap() *StatusMap {
	m := &StatusMap{entries: make(map[types.Provider]map[string]Mapping)}
	for provider, vocab := range defaultVocabulary {
		for raw, mapping := range vocab {
			m.set(provider, raw, mapping)
		}
	}
	return m
}

func normalizeRaw(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (m *StatusMap) set(provider types.Provider, raw string, mapping Mapping) {
	if m.entries[provider] == nil {
		m.entries[provider] = make(map[string]Mapping)
	}
	m.entries[provider][normalizeRaw(raw)] = mapping
}

// Extend adds or overrides one raw status
func (m *StatusMap) Extend(provider types.Provider, raw string, mapping Mapping) error {
	if !provider.IsAgentProvider() {
		return fmt.Errorf("%q is not an agent provider", provider)
	}
	if normalizeRaw(raw) == "" {
		return fmt.Errorf("raw status is required")
	}
	if !mapping.Status.IsValid() {
		return fmt.Errorf("invalid status %q for %s %s", mapping.Status, provider, raw)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(provider, raw, mapping)
	return nil
}

// Merge extends the table with entries keyed provider -> raw status
func (m *StatusMap) Merge(extra map[string]map[string]Mapping) error {
	for provider, vocab := range extra {
		for raw, mapping := range vocab {
			if err := m.Extend(types.Provider(provider), raw, mapping); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadYAML extends the table from a document of the form
//
//	cursor:
//	  AWAITING_REVIEW: {status: in_progress}
func (m *StatusMap) LoadYAML(data []byte) error {
	var extra map[string]map[string]Mapping
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return fmt.Errorf("failed to parse status map: %w", err)
	}
	return m.Merge(extra)
}

// Lookup returns the mapping for a known raw status
func (m *StatusMap) Lookup(provider types.Provider, raw string) (Mapping, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mapping, ok := m.entries[provider][normalizeRaw(raw)]
	return mapping, ok
}

// Map is total: unknown raw statuses map to UnknownMapping and are reported
// with a *types.ExternalStateError that callers treat as a warning
func (m *StatusMap) Map(provider types.Provider, agentID, raw string) (Mapping, error) {
	if mapping, ok := m.Lookup(provider, raw); ok {
		return mapping, nil
	}
	return UnknownMapping, &types.ExternalStateError{
		AgentID:   agentID,
		RawStatus: raw,
		Reason:    fmt.Sprintf("unknown %s status", provider),
	}
}

// IsTerminal reports whether raw ends the remote run
func (m *StatusMap) IsTerminal(provider types.Provider, raw string) bool {
	mapping, ok := m.Lookup(provider, raw)
	return ok && mapping.Terminal
}

// Vocabulary lists the known raw statuses of a provider, sorted
func (m *StatusMap) Vocabulary(provider types.Provider) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries[provider]))
	for raw := range m.entries[provider] {
		out = append(out, raw)
	}
	sort.Strings(out)
	return out
}
