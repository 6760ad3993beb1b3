package audit

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of an authorization decision
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
)

// Valid reports whether o is a known outcome
func (o Outcome) Valid() bool {
	return o == OutcomeAllowed || o == OutcomeDenied
}

// Operation names the engine entry point that produced a decision
type Operation string

const (
	OperationHasPermission      Operation = "has_permission"
	OperationCanAccess          Operation = "can_access"
	OperationCheckMultipleRoles Operation = "check_multiple_roles"
)

// Deny reasons recorded on entries
const (
	ReasonGranted          = "granted"
	ReasonNoAssignment     = "no_active_assignment"
	ReasonRoleLacksGrant   = "role_lacks_permission"
	ReasonOutOfScope       = "resource_out_of_scope"
	ReasonValidationFailed = "validation_failed"
	ReasonLookupFailed     = "lookup_failed"
	ReasonRoleNotAdmitted  = "role_not_admitted_for_user_type"
	ReasonRoleNotInSet     = "role_not_in_set"
)

// Entry is one recorded authorization decision
type Entry struct {
	ID        string    `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	ActorID   string `json:"actor_id"`
	ActorType string `json:"actor_type"`
	Role      string `json:"role,omitempty"`

	Operation    Operation `json:"operation"`
	Category     string    `json:"category,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Action       string    `json:"action,omitempty"`

	Outcome     Outcome `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
	ErrorDetail string  `json:"error_detail,omitempty"`
	RequestID   string  `json:"request_id,omitempty"`
}

// ActorKey is the key entries are ordered under. It matches
// contextkeys.Identity.ActorKey for the same actor.
func (e *Entry) ActorKey() string {
	return e.ActorType + ":" + e.ActorID
}

// Allowed reports whether the decision granted access
func (e *Entry) Allowed() bool {
	return e.Outcome == OutcomeAllowed
}

// ToJSON converts the entry to JSON
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

var sequence atomic.Int64

func init() {
	sequence.Store(time.Now().UnixNano())
}

// nextSequence is monotonic within the process and seeded from the clock
// so it keeps increasing across restarts
func nextSequence() int64 {
	return sequence.Add(1)
}

// stamp fills the id, sequence and timestamp of an entry that lacks them
func stamp(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Sequence == 0 {
		e.Sequence = nextSequence()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// Filter selects entries for search and export
type Filter struct {
	ActorID      string     `json:"actor_id,omitempty"`
	ActorType    string     `json:"actor_type,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   string     `json:"resource_id,omitempty"`
	Outcome      Outcome    `json:"outcome,omitempty"`
	Operation    Operation  `json:"operation,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultLimit
	case f.Limit > maxLimit:
		return maxLimit
	default:
		return f.Limit
	}
}

// matches applies the filter to a single entry
func (f Filter) matches(e *Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.ActorType != "" && e.ActorType != f.ActorType {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// ExportFormat is the encoding of an export
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)

// ContentType returns the HTTP content type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}
