package events

import "testing"

func TestColonAlias_ThreeSegments(t *testing.T) {
	if got := ChatMessageCreated.ColonAlias(); got != "chat:message_created" {
		t.Fatalf("expected chat:message_created, got %q", got)
	}
	if got := ProjectTaskMoved.ColonAlias(); got != "project:task_moved" {
		t.Fatalf("expected project:task_moved, got %q", got)
	}
}

func TestColonAlias_FourSegmentsHaveNone(t *testing.T) {
	if got := ChatMessageReactionAdded.ColonAlias(); got != "" {
		t.Fatalf("expected no alias for four-segment name, got %q", got)
	}
	if got := PasswordResetCompleted.ColonAlias(); got != "" {
		t.Fatalf("expected no alias for four-segment name, got %q", got)
	}
}

func TestTopicRoundTrip(t *testing.T) {
	topic := ChatMessageCreated.Topic("epop")
	if topic != "epop.chat.message.created" {
		t.Fatalf("unexpected topic %q", topic)
	}
	name, ok := FromTopic("epop", topic)
	if !ok || name != ChatMessageCreated {
		t.Fatalf("round trip failed: %q %v", name, ok)
	}
	if _, ok := FromTopic("epop", "epop.not.a.real.event"); ok {
		t.Fatal("expected unknown topic to be rejected")
	}
}

func TestRegistryCoversAllNames(t *testing.T) {
	if len(All()) != 25 {
		t.Fatalf("closed set changed size: %d", len(All()))
	}
	for _, name := range All() {
		tr := name.Traits()
		if tr.AggregateType == "" {
			t.Fatalf("%s has no aggregate type", name)
		}
		if tr.IndexAction == IndexUpsert && tr.IndexEntity == "" {
			t.Fatalf("%s is indexable but has no entity", name)
		}
	}
}

func TestDeliveryClasses(t *testing.T) {
	if ChatMessageCreated.Traits().Class != ClassUrgent {
		t.Fatal("chat.message.created must be urgent")
	}
	if ChatMessageUpdated.Traits().Class != ClassStandard {
		t.Fatal("chat.message.updated must be standard")
	}
	if PasswordResetRequested.Traits().Class != ClassUrgent {
		t.Fatal("password reset must be urgent")
	}
}
