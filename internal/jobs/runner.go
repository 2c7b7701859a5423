package jobs

import (
	"context"
	"sync"
	"time"

	"incidencia/internal/ids"
	"incidencia/internal/incidence"
	"incidencia/internal/obs"
	"incidencia/internal/session"
	"incidencia/internal/stream"
)

// submitTimeout bounds one background attempt end to end; the budget covers
// the relay retries plus the ERP upload window.
const submitTimeout = 15 * time.Minute

// KindFixation names the photo-to-task background job.
const KindFixation = "fixation"

// Runner executes submissions off the request path. The caller gets a job
// id immediately; the durable record is the only authority on the outcome.
type Runner struct {
	store     *Store
	submitter *incidence.Submitter
	events    *stream.Stream

	wg sync.WaitGroup
}

// NewRunner wires a runner. events may be nil when nothing subscribes.
func NewRunner(store *Store, submitter *incidence.Submitter, events *stream.Stream) *Runner {
	return &Runner{store: store, submitter: submitter, events: events}
}

// EnqueueFixation records a queued job and starts the submission in the
// background. The returned id is immediately pollable.
func (r *Runner) EnqueueFixation(ctx context.Context, in incidence.FixationInput, dev *session.Device) (*Job, error) {
	job, err := r.store.Create(ctx, ids.NewJob(), KindFixation)
	if err != nil {
		return nil, err
	}
	r.wg.Add(1)
	go r.run(job, in, dev)
	return job, nil
}

func (r *Runner) run(job *Job, in incidence.FixationInput, dev *session.Device) {
	defer r.wg.Done()

	// Detached from the request context on purpose: the caller already got
	// its acknowledgment and must not cancel the submission by hanging up.
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	if err := r.store.MarkRunning(ctx, job.ID); err != nil {
		obs.Error("job transition failed", map[string]any{"job_id": job.ID, "error": err.Error()})
		return
	}
	r.publish(job, StatusRunning, "")

	res := r.submitter.SubmitFixation(ctx, in, dev)
	status := StatusFailed
	if res.Outcome == incidence.OutcomeOK {
		status = StatusSucceeded
	}
	if err := r.store.Finish(ctx, job.ID, status, res.Message, res); err != nil {
		obs.Error("job finish failed", map[string]any{"job_id": job.ID, "error": err.Error()})
	}
	obs.ObserveJob(string(status))
	obs.Info("background job finished", map[string]any{
		"job_id": job.ID, "status": string(status), "outcome": string(res.Outcome),
	})
	r.publish(job, status, string(res.Outcome))
}

func (r *Runner) publish(job *Job, status Status, outcome string) {
	if r.events == nil {
		return
	}
	r.events.Publish(stream.Event{
		JobID:     job.ID,
		Kind:      job.Kind,
		Status:    string(status),
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	})
}

// Wait blocks until every in-flight job has finished. Used on shutdown so
// accepted submissions are not lost.
func (r *Runner) Wait() { r.wg.Wait() }

// StartPruner deletes expired terminal jobs on a daily cadence until ctx
// ends.
func (r *Runner) StartPruner(ctx context.Context, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.store.Prune(ctx, time.Now().Add(-retention))
				if err != nil {
					obs.Error("job prune failed", map[string]any{"error": err.Error()})
					continue
				}
				if n > 0 {
					obs.Info("pruned finished jobs", map[string]any{"count": n})
				}
			}
		}
	}()
}
