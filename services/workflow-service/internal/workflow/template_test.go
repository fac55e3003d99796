package workflow

import (
	"context"
	"testing"

	"github.com/epop-app/eventbus/events"
)

func TestResolveRecipientsMixedExpression(t *testing.T) {
	dir := &fakeDirectory{
		assignees: map[string][]string{"task-1": {"alice@example.com", "bob@example.com"}},
		emails:    map[string]string{"u-actor": "actor@example.com"},
	}
	got, err := ResolveRecipients(context.Background(), dir,
		"{{task.assignees}}, {{actor}}, ops@example.com",
		EventScope{TaskID: "task-1", ActorID: "u-actor"})
	if err != nil {
		t.Fatalf("ResolveRecipients: %v", err)
	}
	want := []string{"alice@example.com", "bob@example.com", "actor@example.com", "ops@example.com"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestResolveRecipientsEmptyResultIsError(t *testing.T) {
	dir := &fakeDirectory{assignees: map[string][]string{}}
	_, err := ResolveRecipients(context.Background(), dir,
		"{{task.assignees}}", EventScope{TaskID: "task-empty"})
	if err == nil {
		t.Fatalf("expected error for zero resolved addresses")
	}
}

func TestResolveRecipientsUnknownPlaceholder(t *testing.T) {
	_, err := ResolveRecipients(context.Background(), &fakeDirectory{},
		"{{task.owner}}", EventScope{TaskID: "task-1"})
	if err == nil {
		t.Fatalf("expected error for unknown placeholder")
	}
}

func TestResolveRecipientsActorWithoutScope(t *testing.T) {
	_, err := ResolveRecipients(context.Background(), &fakeDirectory{},
		"{{actor}}", EventScope{})
	if err == nil {
		t.Fatalf("expected error when event carries no actor")
	}
}

func TestDefinitionMatchesShortAndFullTriggerForms(t *testing.T) {
	short := Definition{Active: true, Trigger: Trigger{Type: "task.created"}}
	full := Definition{Active: true, Trigger: Trigger{Type: "project.task.created"}}
	inactive := Definition{Active: false, Trigger: Trigger{Type: "task.created"}}

	if !short.Matches(events.ProjectTaskCreated) {
		t.Fatalf("short trigger form should match")
	}
	if !full.Matches(events.ProjectTaskCreated) {
		t.Fatalf("full trigger form should match")
	}
	if inactive.Matches(events.ProjectTaskCreated) {
		t.Fatalf("inactive definition should never match")
	}
	if short.Matches(events.ProjectTaskUpdated) {
		t.Fatalf("task.created should not match task.updated")
	}
}
