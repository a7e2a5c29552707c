package types

import (
	"fmt"
	"strings"
	"time"
)

// TempIDPrefix marks identifiers that exist only in memory until storage
// confirms the record and issues a persisted id.
const TempIDPrefix = "temp-"

// MaxTitleLength bounds prompt titles (mirrors the CHECK constraint in the schema)
const MaxTitleLength = 500

// Prompt represents a unit of work moving through generation and agent dispatch
type Prompt struct {
	ID                  string           `json:"id"`
	WorkspaceID         string           `json:"workspace_id"`
	ProductID           *string          `json:"product_id,omitempty"`
	EpicID              *string          `json:"epic_id,omitempty"`
	Title               string           `json:"title"`
	Description         *string          `json:"description,omitempty"`
	OriginalDescription *string          `json:"original_description,omitempty"`
	Status              Status           `json:"status"`
	Priority            int              `json:"priority"`
	GeneratedPrompt     *string          `json:"generated_prompt,omitempty"`
	GeneratedAt         *time.Time       `json:"generated_at,omitempty"`
	AgentID             *string          `json:"agent_id,omitempty"`
	AgentStatus         *string          `json:"agent_status,omitempty"`
	AgentBranchName     *string          `json:"agent_branch_name,omitempty"`
	AgentURL            *string          `json:"agent_url,omitempty"`
	PullRequestNumber   *int             `json:"pull_request_number,omitempty"`
	PullRequestURL      *string          `json:"pull_request_url,omitempty"`
	PullRequestStatus   *string          `json:"pull_request_status,omitempty"`
	WorkflowMetadata    WorkflowMetadata `json:"workflow_metadata"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Validate checks if the prompt has valid field values
func (p *Prompt) Validate() error {
	if strings.TrimSpace(p.WorkspaceID) == "" {
		return &ValidationError{Field: FieldWorkspaceID, Message: "workspace is required"}
	}
	if strings.TrimSpace(p.Title) == "" {
		return &ValidationError{Field: FieldTitle, Message: "title is required"}
	}
	if len(p.Title) > MaxTitleLength {
		return &ValidationError{Field: FieldTitle, Message: fmt.Sprintf("title must be %d characters or less (got %d)", MaxTitleLength, len(p.Title))}
	}
	if !ValidPriority(p.Priority) {
		return &ValidationError{Field: FieldPriority, Message: fmt.Sprintf("priority must be between %d and %d (got %d)", PriorityUrgent, PriorityLow, p.Priority)}
	}
	if !p.Status.IsValid() {
		return &ValidationError{Field: FieldStatus, Message: fmt.Sprintf("invalid status: %s", p.Status)}
	}
	return nil
}

// IsTemporary reports whether the prompt still carries its optimistic id
func (p *Prompt) IsTemporary() bool {
	return IsTempID(p.ID)
}

// DispatchText returns the text that should be handed to a coding agent:
// the generated prompt when present, else the description, else the title.
func (p *Prompt) DispatchText() string {
	if p.GeneratedPrompt != nil && strings.TrimSpace(*p.GeneratedPrompt) != "" {
		return *p.GeneratedPrompt
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) != "" {
		return *p.Description
	}
	return p.Title
}

// Clone returns a deep copy so callers can snapshot in-memory state
func (p *Prompt) Clone() *Prompt {
	if p == nil {
		return nil
	}
	c := *p
	c.ProductID = cloneString(p.ProductID)
	c.EpicID = cloneString(p.EpicID)
	c.Description = cloneString(p.Description)
	c.OriginalDescription = cloneString(p.OriginalDescription)
	c.GeneratedPrompt = cloneString(p.GeneratedPrompt)
	c.AgentID = cloneString(p.AgentID)
	c.AgentStatus = cloneString(p.AgentStatus)
	c.AgentBranchName = cloneString(p.AgentBranchName)
	c.AgentURL = cloneString(p.AgentURL)
	c.PullRequestURL = cloneString(p.PullRequestURL)
	c.PullRequestStatus = cloneString(p.PullRequestStatus)
	if p.GeneratedAt != nil {
		t := *p.GeneratedAt
		c.GeneratedAt = &t
	}
	if p.PullRequestNumber != nil {
		n := *p.PullRequestNumber
		c.PullRequestNumber = &n
	}
	c.WorkflowMetadata = p.WorkflowMetadata.Clone()
	return &c
}

// IsTempID reports whether id is an optimistic, not-yet-persisted identifier
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NewTempID returns a temporary id of the form temp-<unix nanos>
func NewTempID(now time.Time) string {
	return fmt.Sprintf("%s%d", TempIDPrefix, now.UnixNano())
}

// Priority convention: 1 is the most urgent, 4 the least. Lower values sort first.
const (
	PriorityUrgent = 1
	PriorityHigh   = 2
	PriorityMedium = 3
	PriorityLow    = 4

	DefaultPriority = PriorityHigh
)

// ValidPriority reports whether p falls within the supported range
func ValidPriority(p int) bool {
	return p >= PriorityUrgent && p <= PriorityLow
}

// Status represents the lifecycle state of a prompt
type Status string

const (
	StatusTodo           Status = "todo"
	StatusGenerating     Status = "generating"
	StatusInProgress     Status = "in_progress"
	StatusSendingToAgent Status = "sending_to_agent"
	StatusSentToAgent    Status = "sent_to_agent"
	StatusDone           Status = "done"
)

// AllStatuses lists every status in board order
var AllStatuses = []Status{
	StatusTodo,
	StatusGenerating,
	StatusInProgress,
	StatusSendingToAgent,
	StatusSentToAgent,
	StatusDone,
}

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusTodo, StatusGenerating, StatusInProgress, StatusSendingToAgent, StatusSentToAgent, StatusDone:
		return true
	}
	return false
}

// transitions enumerates the legal status changes. Writing the current
// status again is always allowed and is not listed here.
var transitions = map[Status][]Status{
	StatusTodo:           {StatusGenerating, StatusInProgress, StatusSendingToAgent, StatusDone},
	StatusGenerating:     {StatusTodo},
	StatusInProgress:     {StatusTodo, StatusDone, StatusSendingToAgent},
	StatusSendingToAgent: {StatusSentToAgent, StatusTodo},
	StatusSentToAgent:    {StatusInProgress, StatusDone, StatusTodo},
	StatusDone:           {StatusTodo, StatusInProgress},
}

// CanTransition reports whether a prompt may move from one status to another
func CanTransition(from, to Status) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a ValidationError when the transition is illegal
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &ValidationError{
			Field:   FieldStatus,
			Message: fmt.Sprintf("cannot move prompt from %s to %s", from, to),
		}
	}
	return nil
}

// agentRank orders the statuses an agent can drive a prompt through.
// Statuses absent from the map are not part of agent progress.
var agentRank = map[Status]int{
	StatusSentToAgent: 1,
	StatusInProgress:  2,
	StatusDone:        3,
}

// IsAgentRegression reports whether moving from current to next would walk
// agent progress backwards (including leaving done). Resetting to todo from an
// unfinished agent run is not a regression.
func IsAgentRegression(current, next Status) bool {
	if current == next {
		return false
	}
	if current == StatusDone {
		return true
	}
	cur, ok := agentRank[current]
	if !ok {
		return false
	}
	if nxt, ok := agentRank[next]; ok {
		return nxt < cur
	}
	return false
}

// Provider names an external AI or agent service
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCursor Provider = "cursor"
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// IsTransformProvider reports whether the provider can refine prompt text
func (p Provider) IsTransformProvider() bool {
	switch p {
	case ProviderClaude, ProviderGemini, ProviderOpenAI:
		return true
	}
	return false
}

// IsAgentProvider reports whether the provider runs coding agents
func (p Provider) IsAgentProvider() bool {
	switch p {
	case ProviderClaude, ProviderCursor:
		return true
	}
	return false
}

// PromptFilter scopes a prompt query or an in-memory store
type PromptFilter struct {
	WorkspaceID string
	ProductID   *string
	EpicID      *string
	Statuses    []Status
	HasAgent    bool
	Limit       int
}

// Matches reports whether p falls inside the filter scope
func (f PromptFilter) Matches(p *Prompt) bool {
	if f.WorkspaceID != "" && p.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.ProductID != nil && (p.ProductID == nil || *p.ProductID != *f.ProductID) {
		return false
	}
	if f.EpicID != nil && (p.EpicID == nil || *p.EpicID != *f.EpicID) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if p.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.HasAgent && (p.AgentID == nil || *p.AgentID == "") {
		return false
	}
	return true
}

// KnowledgeItem is workspace context handed to the transform step
type KnowledgeItem struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Category    string    `json:"category,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PromptEvent is an audit trail entry written alongside prompt updates
type PromptEvent struct {
	ID        int64     `json:"id"`
	PromptID  string    `json:"prompt_id"`
	EventType EventType `json:"event_type"`
	Actor     string    `json:"actor"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType categorizes audit trail events
type EventType string

const (
	EventCreated       EventType = "created"
	EventUpdated       EventType = "updated"
	EventStatusChanged EventType = "status_changed"
	EventDeleted       EventType = "deleted"
)

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
