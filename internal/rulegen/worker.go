package rulegen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/promptbench/internal/storage"
)

// JobType is the queue type for background rule synthesis.
const JobType = "rule_synthesize"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Worker processes rule_synthesize jobs from the SQLite job queue so
// knowledge writes never wait on an LLM call.
type Worker struct {
	jobs  JobStore
	synth *Synthesizer
	poll  time.Duration
	log   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(jobs JobStore, synth *Synthesizer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		jobs:  jobs,
		synth: synth,
		poll:  pollInterval,
		log:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.log.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single rule_synthesize job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.log.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.jobs.FailJob(job.ID, err.Error()); failErr != nil {
			w.log.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.jobs.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// SynthesizePayload is the payload of a rule_synthesize job.
type SynthesizePayload struct {
	KnowledgeEntryID string `json:"knowledge_entry_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload SynthesizePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	outcome, err := w.synth.SynthesizeForEntry(ctx, payload.KnowledgeEntryID)
	if err != nil {
		return err
	}

	w.log.Info("rule synthesis finished",
		"entry_id", payload.KnowledgeEntryID,
		"outcome", outcomeName(outcome))
	return nil
}

func outcomeName(o Outcome) string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "skipped"
	}
}
