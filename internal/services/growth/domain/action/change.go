package action

// Change kinds recorded in the change outbox.
const (
	KindTaskUpdated       = "task.updated"
	KindReflectionCreated = "reflection.created"
	KindAccountCreated    = "account.created"
)

// TaskChange carries the snapshots around one task write.
type TaskChange struct {
	ChangeID string `json:"changeId"`
	TaskID   string `json:"taskId"`
	Before   *Task  `json:"before,omitempty"`
	After    *Task  `json:"after,omitempty"`
}

// ReflectionCreated announces a newly stored reflection.
type ReflectionCreated struct {
	ChangeID   string     `json:"changeId"`
	Reflection Reflection `json:"reflection"`
}

// AccountCreated announces a new user account.
type AccountCreated struct {
	ChangeID string `json:"changeId"`
	UserID   string `json:"userId"`
}
