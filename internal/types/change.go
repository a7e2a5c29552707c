package types

// ChangeKind identifies the kind of persisted change pushed on the feed
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is a persisted change to a prompt, delivered to every
// subscriber of the prompt's workspace after the write commits.
type ChangeEvent struct {
	Kind        ChangeKind
	WorkspaceID string
	PromptID    string
	// Prompt is the full row after the change (nil for deletes)
	Prompt *Prompt
	// Updates carries the partial update for ChangeUpdate events
	Updates Updates
}
