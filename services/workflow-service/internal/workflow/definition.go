package workflow

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/epop-app/eventbus/events"
)

// Run statuses. Runs move queued -> running -> completed|failed.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

const ActionSendEmail = "send_email"

type Trigger struct {
	Type string `json:"type"`
}

type Action struct {
	Type    string `json:"type"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Definition struct {
	ID        int64
	Name      string
	Active    bool
	Trigger   Trigger
	Actions   []Action
	CreatedAt time.Time
}

// Matches reports whether this definition fires for the given event.
// Definitions written against the short trigger form ("task.created")
// match the fully qualified name ("project.task.created") as well.
func (d Definition) Matches(name events.Name) bool {
	if !d.Active || d.Trigger.Type == "" {
		return false
	}
	full := string(name)
	if d.Trigger.Type == full {
		return true
	}
	return strings.HasSuffix(full, "."+d.Trigger.Type)
}

// FirstAction returns the action a run executes. Only the first configured
// action runs; the rest are ignored.
func (d Definition) FirstAction() (Action, bool) {
	if len(d.Actions) == 0 {
		return Action{}, false
	}
	return d.Actions[0], true
}

type Run struct {
	ID         string
	WorkflowID int64
	EventID    string
	Status     string
	Error      string
	Output     json.RawMessage
	StartedAt  time.Time
	FinishedAt *time.Time
}
