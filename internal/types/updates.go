package types

import (
	"fmt"
	"time"
)

// Column names accepted in partial updates
const (
	FieldWorkspaceID         = "workspace_id"
	FieldProductID           = "product_id"
	FieldEpicID              = "epic_id"
	FieldTitle               = "title"
	FieldDescription         = "description"
	FieldOriginalDescription = "original_description"
	FieldStatus              = "status"
	FieldPriority            = "priority"
	FieldGeneratedPrompt     = "generated_prompt"
	FieldGeneratedAt         = "generated_at"
	FieldAgentID             = "agent_id"
	FieldAgentStatus         = "agent_status"
	FieldAgentBranchName     = "agent_branch_name"
	FieldAgentURL            = "agent_url"
	FieldPullRequestNumber   = "pull_request_number"
	FieldPullRequestURL      = "pull_request_url"
	FieldPullRequestStatus   = "pull_request_status"
	FieldWorkflowMetadata    = "workflow_metadata"
	FieldUpdatedAt           = "updated_at"
)

// UpdatableFields lists the columns a partial update may touch
var UpdatableFields = map[string]bool{
	FieldProductID:           true,
	FieldEpicID:              true,
	FieldTitle:               true,
	FieldDescription:         true,
	FieldOriginalDescription: true,
	FieldStatus:              true,
	FieldPriority:            true,
	FieldGeneratedPrompt:     true,
	FieldGeneratedAt:         true,
	FieldAgentID:             true,
	FieldAgentStatus:         true,
	FieldAgentBranchName:     true,
	FieldAgentURL:            true,
	FieldPullRequestNumber:   true,
	FieldPullRequestURL:      true,
	FieldPullRequestStatus:   true,
	FieldWorkflowMetadata:    true,
	FieldUpdatedAt:           true,
}

// Updates is a partial prompt update keyed by column name. A nil value
// clears a nullable column.
type Updates map[string]interface{}

// Clone returns a shallow copy of the update set
func (u Updates) Clone() Updates {
	c := make(Updates, len(u))
	for k, v := range u {
		c[k] = v
	}
	return c
}

// Merge folds next into u, last value wins per field
func (u Updates) Merge(next Updates) Updates {
	if u == nil {
		u = make(Updates, len(next))
	}
	for k, v := range next {
		u[k] = v
	}
	return u
}

// Status returns the status carried by the update, if any
func (u Updates) Status() (Status, bool) {
	v, ok := u[FieldStatus]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case Status:
		return s, true
	case string:
		return Status(s), true
	}
	return "", false
}

// UpdatedAt returns the write timestamp carried by the update, if any
func (u Updates) UpdatedAt() (time.Time, bool) {
	v, ok := u[FieldUpdatedAt]
	if !ok {
		return time.Time{}, false
	}
	t, err := timeValue(v)
	if err != nil || t == nil {
		return time.Time{}, false
	}
	return *t, true
}

// Validate checks field names and value types without applying anything
func (u Updates) Validate() error {
	var scratch Prompt
	return ApplyUpdates(&scratch, u)
}

// ApplyUpdates patches p in place with the given partial update
func ApplyUpdates(p *Prompt, u Updates) error {
	for key, value := range u {
		if !UpdatableFields[key] {
			return &ValidationError{Field: key, Message: "field cannot be updated"}
		}
		if err := applyField(p, key, value); err != nil {
			return &ValidationError{Field: key, Message: err.Error()}
		}
	}
	return nil
}

func applyField(p *Prompt, key string, value interface{}) error {
	switch key {
	case FieldTitle:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		p.Title = s
	case FieldStatus:
		switch s := value.(type) {
		case Status:
			p.Status = s
		case string:
			p.Status = Status(s)
		default:
			return fmt.Errorf("expected status, got %T", value)
		}
		if !p.Status.IsValid() {
			return fmt.Errorf("invalid status: %s", p.Status)
		}
	case FieldPriority:
		n, ok := value.(int)
		if !ok {
			return fmt.Errorf("expected int, got %T", value)
		}
		if !ValidPriority(n) {
			return fmt.Errorf("priority must be between %d and %d (got %d)", PriorityUrgent, PriorityLow, n)
		}
		p.Priority = n
	case FieldProductID:
		return setNullableString(&p.ProductID, value)
	case FieldEpicID:
		return setNullableString(&p.EpicID, value)
	case FieldDescription:
		return setNullableString(&p.Description, value)
	case FieldOriginalDescription:
		return setNullableString(&p.OriginalDescription, value)
	case FieldGeneratedPrompt:
		return setNullableString(&p.GeneratedPrompt, value)
	case FieldAgentID:
		return setNullableString(&p.AgentID, value)
	case FieldAgentStatus:
		return setNullableString(&p.AgentStatus, value)
	case FieldAgentBranchName:
		return setNullableString(&p.AgentBranchName, value)
	case FieldAgentURL:
		return setNullableString(&p.AgentURL, value)
	case FieldPullRequestURL:
		return setNullableString(&p.PullRequestURL, value)
	case FieldPullRequestStatus:
		return setNullableString(&p.PullRequestStatus, value)
	case FieldPullRequestNumber:
		switch n := value.(type) {
		case nil:
			p.PullRequestNumber = nil
		case int:
			p.PullRequestNumber = &n
		case *int:
			if n == nil {
				p.PullRequestNumber = nil
			} else {
				v := *n
				p.PullRequestNumber = &v
			}
		default:
			return fmt.Errorf("expected int, got %T", value)
		}
	case FieldGeneratedAt:
		t, err := timeValue(value)
		if err != nil {
			return err
		}
		p.GeneratedAt = t
	case FieldUpdatedAt:
		t, err := timeValue(value)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("updated_at cannot be cleared")
		}
		p.UpdatedAt = *t
	case FieldWorkflowMetadata:
		m, ok := value.(WorkflowMetadata)
		if !ok {
			return fmt.Errorf("expected workflow metadata, got %T", value)
		}
		p.WorkflowMetadata = m.Clone()
	default:
		return fmt.Errorf("unknown field")
	}
	return nil
}

func setNullableString(dst **string, value interface{}) error {
	switch s := value.(type) {
	case nil:
		*dst = nil
	case string:
		*dst = &s
	case *string:
		if s == nil {
			*dst = nil
		} else {
			v := *s
			*dst = &v
		}
	default:
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

func timeValue(value interface{}) (*time.Time, error) {
	switch t := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &t, nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		v := *t
		return &v, nil
	}
	return nil, fmt.Errorf("expected time, got %T", value)
}
