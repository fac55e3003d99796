package events

import "strings"

// Name is a member of the closed domain-event name set. Producers must only
// emit members of this set; the outbox writer rejects anything else.
type Name string

const (
	ChatMessageCreated         Name = "chat.message.created"
	ChatMessageUpdated         Name = "chat.message.updated"
	ChatMessageDeleted         Name = "chat.message.deleted"
	ChatMessageRead            Name = "chat.message.read"
	ChatMessageReactionAdded   Name = "chat.message.reaction.added"
	ChatMessageReactionRemoved Name = "chat.message.reaction.removed"
	ChatThreadCreated          Name = "chat.thread.created"
	ChatParticipantJoined      Name = "chat.participant.joined"
	ChatParticipantLeft        Name = "chat.participant.left"
	ProjectTaskCreated         Name = "project.task.created"
	ProjectTaskUpdated         Name = "project.task.updated"
	ProjectTaskMoved           Name = "project.task.moved"
	ProjectTaskCommented       Name = "project.task.commented"
	ProjectTaskRescheduled     Name = "project.task.rescheduled"
	ProjectDependencyAdded     Name = "project.dependency.added"
	ProjectDependencyRemoved   Name = "project.dependency.removed"
	FilesFileUploaded          Name = "files.file.uploaded"
	FilesFileLinked            Name = "files.file.linked"
	MailMessageCreated         Name = "mail.message.created"
	MailMessageMoved           Name = "mail.message.moved"
	UserPresenceUpdated        Name = "user.presence.updated"
	DirectoryUnitMoved         Name = "directory.unit.moved"
	DirectoryUserMoved         Name = "directory.user.moved"
	PasswordResetRequested     Name = "user.password.reset.requested"
	PasswordResetCompleted     Name = "user.password.reset.completed"
)

// DeliveryClass partitions events by notification urgency.
type DeliveryClass string

const (
	ClassStandard DeliveryClass = "standard"
	ClassUrgent   DeliveryClass = "urgent"
)

// IndexAction describes what the search indexer should do for an event.
type IndexAction string

const (
	IndexNone   IndexAction = ""
	IndexUpsert IndexAction = "upsert"
	IndexDelete IndexAction = "delete"
)

// Traits carries the per-name metadata the consumers branch on.
type Traits struct {
	AggregateType string
	Class         DeliveryClass
	IndexAction   IndexAction
	IndexEntity   string
}

var registry = map[Name]Traits{
	ChatMessageCreated:         {AggregateType: "message", Class: ClassUrgent, IndexAction: IndexUpsert, IndexEntity: "message"},
	ChatMessageUpdated:         {AggregateType: "message", Class: ClassStandard, IndexAction: IndexUpsert, IndexEntity: "message"},
	ChatMessageDeleted:         {AggregateType: "message", Class: ClassStandard, IndexAction: IndexDelete, IndexEntity: "message"},
	ChatMessageRead:            {AggregateType: "message", Class: ClassStandard},
	ChatMessageReactionAdded:   {AggregateType: "message", Class: ClassStandard},
	ChatMessageReactionRemoved: {AggregateType: "message", Class: ClassStandard},
	ChatThreadCreated:          {AggregateType: "chat", Class: ClassStandard},
	ChatParticipantJoined:      {AggregateType: "chat", Class: ClassStandard},
	ChatParticipantLeft:        {AggregateType: "chat", Class: ClassStandard},
	ProjectTaskCreated:         {AggregateType: "task", Class: ClassStandard, IndexAction: IndexUpsert, IndexEntity: "task"},
	ProjectTaskUpdated:         {AggregateType: "task", Class: ClassStandard, IndexAction: IndexUpsert, IndexEntity: "task"},
	ProjectTaskMoved:           {AggregateType: "task", Class: ClassStandard, IndexAction: IndexUpsert, IndexEntity: "task"},
	ProjectTaskCommented:       {AggregateType: "task", Class: ClassStandard, IndexAction: IndexUpsert, IndexEntity: "task"},
	ProjectTaskRescheduled:     {AggregateType: "task", Class: ClassStandard, IndexAction: IndexUpsert, IndexEntity: "task"},
	ProjectDependencyAdded:     {AggregateType: "project", Class: ClassStandard},
	ProjectDependencyRemoved:   {AggregateType: "project", Class: ClassStandard},
	FilesFileUploaded:          {AggregateType: "file", Class: ClassStandard},
	FilesFileLinked:            {AggregateType: "file", Class: ClassStandard},
	MailMessageCreated:         {AggregateType: "mail", Class: ClassStandard, IndexAction: IndexUpsert, IndexEntity: "mail"},
	MailMessageMoved:           {AggregateType: "mail", Class: ClassStandard, IndexAction: IndexUpsert, IndexEntity: "mail"},
	UserPresenceUpdated:        {AggregateType: "user", Class: ClassStandard},
	DirectoryUnitMoved:         {AggregateType: "org", Class: ClassStandard},
	DirectoryUserMoved:         {AggregateType: "user", Class: ClassStandard},
	PasswordResetRequested:     {AggregateType: "user", Class: ClassUrgent},
	PasswordResetCompleted:     {AggregateType: "user", Class: ClassUrgent},
}

// colonAliases maps each dotted name to its domain:entity_action alias. Built
// once from the registry so no call site does its own string splitting; names
// that do not split into exactly three segments have no alias.
var colonAliases = func() map[Name]string {
	aliases := make(map[Name]string, len(registry))
	for name := range registry {
		parts := strings.Split(string(name), ".")
		if len(parts) != 3 {
			continue
		}
		aliases[name] = parts[0] + ":" + parts[1] + "_" + parts[2]
	}
	return aliases
}()

func (n Name) Valid() bool {
	_, ok := registry[n]
	return ok
}

func (n Name) Traits() Traits {
	return registry[n]
}

// Topic returns the transport topic for this name, e.g. "epop.chat.message.created".
func (n Name) Topic(prefix string) string {
	return prefix + "." + string(n)
}

// ColonAlias returns the compatibility wire name ("chat:message_created"), or
// "" for names that do not split into exactly three dot segments.
func (n Name) ColonAlias() string {
	return colonAliases[n]
}

// All returns every member of the closed set. The order is unspecified.
func All() []Name {
	names := make([]Name, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// Topics returns the transport topic for every member of the closed set.
func Topics(prefix string) []string {
	topics := make([]string, 0, len(registry))
	for name := range registry {
		topics = append(topics, name.Topic(prefix))
	}
	return topics
}

// FromTopic resolves a transport topic back to its event name.
func FromTopic(prefix, topic string) (Name, bool) {
	n := Name(strings.TrimPrefix(topic, prefix+"."))
	return n, n.Valid()
}
