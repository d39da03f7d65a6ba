package transcript

import "time"

// Role identifies who produced an entry.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleBreadcrumb Role = "breadcrumb"
)

// EntryStatus tracks whether an entry is still streaming.
type EntryStatus string

const (
	StatusInProgress EntryStatus = "IN_PROGRESS"
	StatusDone       EntryStatus = "DONE"
)

// Entry is one line of the live transcript. Only Text, Status and Expanded
// change after creation.
type Entry struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
	Status    EntryStatus `json:"status"`
	Expanded  bool        `json:"expanded"`
	Data      any         `json:"data,omitempty"`
}
