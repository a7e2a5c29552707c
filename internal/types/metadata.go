package types

import "time"

// MaxWebhookRecords caps the webhook history kept on a prompt
const MaxWebhookRecords = 10

// WorkflowMetadata is the append-only audit trail of a prompt's dispatches
type WorkflowMetadata struct {
	Episodes    []DispatchEpisode `json:"episodes,omitempty"`
	Webhooks    []WebhookRecord   `json:"webhooks,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	LastErrorAt *time.Time        `json:"last_error_at,omitempty"`
}

// DispatchEpisode records one attempt to hand a prompt to a coding agent.
// A retry is a new episode; an episode's outcome is stamped at most once.
type DispatchEpisode struct {
	Number       int        `json:"number"`
	Provider     Provider   `json:"provider"`
	Model        string     `json:"model,omitempty"`
	Repository   string     `json:"repository"`
	Ref          string     `json:"ref,omitempty"`
	AutoCreatePR bool       `json:"auto_create_pr"`
	AgentID      string     `json:"agent_id,omitempty"`
	AgentURL     string     `json:"agent_url,omitempty"`
	DispatchedAt time.Time  `json:"dispatched_at"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Open reports whether the episode has not yet recorded an outcome
// that ends it (failure or cancellation)
func (e DispatchEpisode) Open() bool {
	return e.FailedAt == nil && e.CancelledAt == nil
}

// WebhookRecord is one status push received for the prompt's agent
type WebhookRecord struct {
	ReceivedAt time.Time `json:"received_at"`
	AgentID    string    `json:"agent_id"`
	Status     string    `json:"status"`
	Mapped     Status    `json:"mapped"`
	Applied    bool      `json:"applied"`
}

// Clone returns a deep copy of the metadata
func (m WorkflowMetadata) Clone() WorkflowMetadata {
	c := WorkflowMetadata{LastError: m.LastError}
	if m.LastErrorAt != nil {
		t := *m.LastErrorAt
		c.LastErrorAt = &t
	}
	if len(m.Episodes) > 0 {
		c.Episodes = make([]DispatchEpisode, len(m.Episodes))
		copy(c.Episodes, m.Episodes)
	}
	if len(m.Webhooks) > 0 {
		c.Webhooks = make([]WebhookRecord, len(m.Webhooks))
		copy(c.Webhooks, m.Webhooks)
	}
	return c
}

// CurrentEpisode returns the most recent dispatch episode, if any
func (m WorkflowMetadata) CurrentEpisode() (DispatchEpisode, bool) {
	if len(m.Episodes) == 0 {
		return DispatchEpisode{}, false
	}
	return m.Episodes[len(m.Episodes)-1], true
}

// WithEpisode returns a copy with a new episode appended and numbered
func (m WorkflowMetadata) WithEpisode(e DispatchEpisode) WorkflowMetadata {
	c := m.Clone()
	e.Number = len(c.Episodes) + 1
	c.Episodes = append(c.Episodes, e)
	return c
}

// WithCurrentEpisode returns a copy where fn has updated the latest episode
func (m WorkflowMetadata) WithCurrentEpisode(fn func(*DispatchEpisode)) WorkflowMetadata {
	c := m.Clone()
	if len(c.Episodes) > 0 {
		fn(&c.Episodes[len(c.Episodes)-1])
	}
	return c
}

// WithWebhook returns a copy with rec appended, keeping the newest MaxWebhookRecords
func (m WorkflowMetadata) WithWebhook(rec WebhookRecord) WorkflowMetadata {
	c := m.Clone()
	c.Webhooks = append(c.Webhooks, rec)
	if len(c.Webhooks) > MaxWebhookRecords {
		c.Webhooks = c.Webhooks[len(c.Webhooks)-MaxWebhookRecords:]
	}
	return c
}

// WithError returns a copy recording msg as the last workflow error
func (m WorkflowMetadata) WithError(msg string, at time.Time) WorkflowMetadata {
	c := m.Clone()
	c.LastError = msg
	c.LastErrorAt = &at
	return c
}
