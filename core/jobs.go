package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matijarozman/muse-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultPollInterval is the fixed delay between status polls.
const DefaultPollInterval = 10 * time.Second

// Job tracks one submitted long-running generation job. Its fields are
// updated by the poller with every observed status.
type Job struct {
	Operation llms.Operation

	mu       sync.Mutex
	done     bool
	artifact *llms.Artifact
	lastPoll time.Time
}

func (j *Job) Done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.done
}

func (j *Job) Artifact() *llms.Artifact {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.artifact
}

func (j *Job) LastPoll() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastPoll
}

func (j *Job) observe(status llms.OperationStatus, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.done = status.Done
	j.artifact = status.Artifact
	j.lastPoll = now
}

// JobPoller submits long-running generation jobs and polls them to
// completion at a fixed interval.
type JobPoller struct {
	credential *llms.Credential
	runner     OperationRunner
	interval   time.Duration
}

func NewJobPoller(opts ...JobPollerOption) (*JobPoller, error) {
	poller := &JobPoller{interval: DefaultPollInterval}
	for _, opt := range opts {
		opt.applyToJobPoller(poller)
	}

	if poller.runner == nil {
		return nil, errors.New("an operation runner is required")
	}
	return poller, nil
}

// Submit starts a job and returns its handle.
func (p *JobPoller) Submit(ctx context.Context, request llms.JobRequest) (*Job, error) {
	ctx, span := tracer.Start(ctx, "submitting generation job")
	defer span.End()

	if p.credential != nil {
		if _, err := p.credential.Authorize(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	operation, err := p.runner.SubmitOperation(ctx, request)
	if err != nil {
		err = fmt.Errorf("failed to submit generation job: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("operation.name", operation.Name))

	return &Job{Operation: operation}, nil
}

// Await polls the job at the configured interval and returns once it
// completes. Cancellation is cooperative: the context is checked between
// polls, an in-flight poll is not aborted. A job that completes without a
// usable artifact is an OperationFailedError.
func (p *JobPoller) Await(ctx context.Context, job *Job) (*llms.Artifact, error) {
	ctx, span := tracer.Start(ctx, "awaiting generation job")
	defer span.End()
	span.SetAttributes(attribute.String("operation.name", job.Operation.Name))

	fail := func(err error) (*llms.Artifact, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		status, err := p.runner.PollOperation(ctx, job.Operation)
		if err != nil {
			return fail(fmt.Errorf("failed to poll operation %s: %w", job.Operation.Name, err))
		}
		job.observe(status, time.Now())

		if status.Done {
			if status.Failure != "" {
				return fail(&llms.OperationFailedError{Operation: job.Operation.Name, Reason: status.Failure})
			}
			if status.Artifact == nil {
				return fail(&llms.OperationFailedError{Operation: job.Operation.Name, Reason: "no artifact produced"})
			}
			return status.Artifact, nil
		}

		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case <-ticker.C:
		}
	}
}

// Generate submits a job and awaits its artifact.
func (p *JobPoller) Generate(ctx context.Context, request llms.JobRequest) (*llms.Artifact, error) {
	job, err := p.Submit(ctx, request)
	if err != nil {
		return nil, err
	}
	return p.Await(ctx, job)
}
