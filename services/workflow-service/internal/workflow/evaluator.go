package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/epop-app/eventbus/events"
	"github.com/epop-app/eventbus/libs/email"
	"github.com/epop-app/eventbus/libs/kafkax"
	"github.com/epop-app/eventbus/libs/metrics"
)

// Store is the durable side of a run; *Repository implements it.
type Store interface {
	ListDefinitions(ctx context.Context) ([]Definition, error)
	CreateRun(ctx context.Context, workflowID int64, eventID string) (string, bool, error)
	StartRun(ctx context.Context, runID string) error
	CompleteRun(ctx context.Context, runID string, output any) error
	FailRun(ctx context.Context, runID string, runErr string) error
	DeadLetter(ctx context.Context, workflowID int64, event []byte, runErr string) error
}

// RunOutput is what a completed run records.
type RunOutput struct {
	Action     string   `json:"action"`
	Recipients []string `json:"recipients,omitempty"`
}

// Evaluator matches incoming task events against stored workflow
// definitions and executes the first action of each match. One workflow's
// failure is recorded on its own run and dead-lettered; it never stops the
// remaining matches for the same event.
type Evaluator struct {
	store  Store
	dir    Directory
	mailer email.Sender
	logger *slog.Logger
	prefix string
}

func NewEvaluator(store Store, dir Directory, mailer email.Sender, logger *slog.Logger, topicPrefix string) *Evaluator {
	return &Evaluator{
		store:  store,
		dir:    dir,
		mailer: mailer,
		logger: logger,
		prefix: topicPrefix,
	}
}

func (e *Evaluator) Topics() []string {
	return []string{events.ProjectTaskCreated.Topic(e.prefix)}
}

func (e *Evaluator) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	name := events.Name(meta.EventName)
	if !name.Valid() {
		return fmt.Errorf("unknown event name %q", meta.EventName)
	}

	flat, err := events.ParseWire(msg.Value)
	if err != nil {
		return err
	}
	eventID := meta.EventID
	if eventID == "" {
		eventID = events.WireString(flat, "id")
	}
	scope := EventScope{
		TaskID:  events.WireString(flat, "aggregateId"),
		ActorID: events.WireString(flat, "userId"),
	}

	defs, err := e.store.ListDefinitions(ctx)
	if err != nil {
		return err
	}

	for _, def := range defs {
		if !def.Matches(name) {
			continue
		}
		e.runOne(ctx, def, eventID, scope, msg.Value)
	}
	return nil
}

// runOne drives a single workflow through queued -> running -> terminal.
// Errors are absorbed here so sibling workflows still evaluate.
func (e *Evaluator) runOne(ctx context.Context, def Definition, eventID string, scope EventScope, rawEvent []byte) {
	runID, created, err := e.store.CreateRun(ctx, def.ID, eventID)
	if err != nil {
		e.logger.Error("run insert failed", "workflow_id", def.ID, "event_id", eventID, "err", err)
		return
	}
	if !created {
		e.logger.Info("duplicate delivery, run already exists", "workflow_id", def.ID, "event_id", eventID)
		return
	}
	if err := e.store.StartRun(ctx, runID); err != nil {
		e.logger.Error("run start failed", "run_id", runID, "err", err)
		return
	}

	output, runErr := e.execute(ctx, def, scope)
	if runErr != nil {
		metrics.WorkflowRuns.WithLabelValues(RunFailed).Inc()
		e.logger.Warn("workflow action failed", "workflow_id", def.ID, "run_id", runID, "err", runErr)
		if err := e.store.FailRun(ctx, runID, runErr.Error()); err != nil {
			e.logger.Error("run fail update failed", "run_id", runID, "err", err)
		}
		if err := e.store.DeadLetter(ctx, def.ID, rawEvent, runErr.Error()); err != nil {
			e.logger.Error("dead letter insert failed", "workflow_id", def.ID, "err", err)
		}
		return
	}

	metrics.WorkflowRuns.WithLabelValues(RunCompleted).Inc()
	if err := e.store.CompleteRun(ctx, runID, output); err != nil {
		e.logger.Error("run complete update failed", "run_id", runID, "err", err)
	}
}

func (e *Evaluator) execute(ctx context.Context, def Definition, scope EventScope) (RunOutput, error) {
	action, ok := def.FirstAction()
	if !ok {
		return RunOutput{}, fmt.Errorf("workflow %d has no actions", def.ID)
	}

	switch action.Type {
	case ActionSendEmail:
		recipients, err := ResolveRecipients(ctx, e.dir, action.To, scope)
		if err != nil {
			return RunOutput{}, err
		}
		subject := action.Subject
		if subject == "" {
			subject = "Automation: " + def.Name
		}
		for _, to := range recipients {
			if err := e.mailer.Send(to, subject, action.Body); err != nil {
				return RunOutput{}, fmt.Errorf("send to %s: %w", to, err)
			}
		}
		return RunOutput{Action: action.Type, Recipients: recipients}, nil
	default:
		return RunOutput{}, fmt.Errorf("unsupported action type %q", action.Type)
	}
}
