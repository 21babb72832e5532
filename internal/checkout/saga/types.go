package saga

import (
	"context"
	"sync"
)

// Step names one unit of work in the checkout saga.
type Step string

const (
	StepReserve       Step = "reserve"
	StepCreateSession Step = "create_session"
	StepAttachSession Step = "attach_session"
	StepCompensate    Step = "compensate"
	StepSettle        Step = "settle"
	StepRelease       Step = "release"
	StepCancel        Step = "cancel"
	StepExpire        Step = "expire"
	StepReconcile     Step = "reconcile"
)

// StepStatus captures the outcome of a saga step.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepRecord is one journal row.
type StepRecord struct {
	OrderID string
	Step    Step
	Status  StepStatus
	Detail  string
}

// Journal persists an append-only audit trail of saga steps.
type Journal interface {
	AddStep(ctx context.Context, orderID string, step Step, status StepStatus, detail string) error
}

// NopJournal discards every step.
type NopJournal struct{}

func (NopJournal) AddStep(context.Context, string, Step, StepStatus, string) error { return nil }

// MemoryJournal keeps steps in memory.
type MemoryJournal struct {
	mu    sync.Mutex
	steps []StepRecord
}

func (j *MemoryJournal) AddStep(_ context.Context, orderID string, step Step, status StepStatus, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, StepRecord{OrderID: orderID, Step: step, Status: status, Detail: detail})
	return nil
}

// Steps returns the recorded steps for orderID in order.
func (j *MemoryJournal) Steps(orderID string) []StepRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []StepRecord
	for _, s := range j.steps {
		if s.OrderID == orderID {
			out = append(out, s)
		}
	}
	return out
}
