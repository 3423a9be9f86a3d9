package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"habitly/internal/types"
)

const (
	defaultPrefix   = "habitly:queue"
	maxWatchRetries = 5
	// maxStalls is how often a job may lose its lease before it is failed.
	maxStalls = 1
	// MinLeaseTimeout is the shortest lease a Queue accepts.
	MinLeaseTimeout = time.Second
)

// ErrStalledTooOften is recorded on jobs that exceeded the stall limit.
var ErrStalledTooOften = errors.New("job stalled more than allowable limit")

// Options configures a Queue.
type Options struct {
	Prefix           string
	Name             string
	Retry            RetryPolicy
	RemoveOnComplete time.Duration
	RemoveOnFail     time.Duration
	LeaseTimeout     time.Duration
	Clock            types.Clock
}

func (o *Options) setDefaults() {
	if o.Prefix == "" {
		o.Prefix = defaultPrefix
	}
	if o.Name == "" {
		o.Name = "mail"
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = DefaultRetryPolicy
	}
	if o.RemoveOnComplete <= 0 {
		o.RemoveOnComplete = time.Hour
	}
	if o.RemoveOnFail <= 0 {
		o.RemoveOnFail = 24 * time.Hour
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 30 * time.Second
	} else if o.LeaseTimeout < MinLeaseTimeout {
		o.LeaseTimeout = MinLeaseTimeout
	}
	if o.Clock == nil {
		o.Clock = types.RealClock{}
	}
}

type keys struct {
	prefix    string
	waiting   string
	active    string
	leases    string
	delayed   string
	completed string
	failed    string
}

func newKeys(prefix, name string) keys {
	base := prefix + ":" + name + ":"
	return keys{
		prefix:    base,
		waiting:   base + "waiting",
		active:    base + "active",
		leases:    base + "leases",
		delayed:   base + "delayed",
		completed: base + "completed",
		failed:    base + "failed",
	}
}

func (k keys) job(id string) string { return k.prefix + "job:" + id }

// Queue is a Redis-backed durable job queue with idempotent job ids.
// Producers and workers in different processes coordinate only through Redis.
type Queue struct {
	rdb    redis.UniversalClient
	opts   Options
	keys   keys
	logger types.Logger

	mu        sync.RWMutex
	listeners []EventListener
	busy      atomic.Bool
}

// New creates a Queue over an existing Redis client.
func New(rdb redis.UniversalClient, opts Options, logger types.Logger) *Queue {
	opts.setDefaults()
	return &Queue{
		rdb:    rdb,
		opts:   opts,
		keys:   newKeys(opts.Prefix, opts.Name),
		logger: logger.With("component", "queue", "queue", opts.Name),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.opts.Name }

// AddListener registers a lifecycle event listener.
func (q *Queue) AddListener(l EventListener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

func (q *Queue) emit(ctx context.Context, ev Event) {
	ev.Queue = q.opts.Name
	if ev.Job != nil && ev.JobID == "" {
		ev.JobID = ev.Job.ID
	}
	q.mu.RLock()
	ls := q.listeners
	q.mu.RUnlock()
	for _, l := range ls {
		l.OnEvent(ctx, ev)
	}
}

// Ping checks connectivity to the queue backend.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Enqueue stores a new waiting job under id. If a job with the same id
// already exists, in any state, it is returned unchanged with created=false.
func (q *Queue) Enqueue(ctx context.Context, id, name string, payload any) (*Job, bool, error) {
	if id == "" {
		return nil, false, types.NewAppError(types.ErrCodeValidationMissingField, "job id is required", nil)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal job payload: %w", err)
	}

	job := &Job{
		ID:          id,
		Name:        name,
		Payload:     data,
		State:       StateWaiting,
		MaxAttempts: q.opts.Retry.MaxAttempts,
		CreatedAt:   q.opts.Clock.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, false, fmt.Errorf("marshal job: %w", err)
	}

	jobKey := q.keys.job(id)
	var existing []byte
	created := false

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, jobKey).Bytes()
		if err == nil {
			existing = cur
			return nil
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, jobKey, raw, 0)
			p.LPush(ctx, q.keys.waiting, id)
			return nil
		})
		if err == nil {
			created = true
		}
		return err
	}

	if err := q.watch(ctx, txf, jobKey); err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue job", err)
	}

	if !created {
		var prior Job
		if err := json.Unmarshal(existing, &prior); err != nil {
			return nil, false, types.NewAppError(types.ErrCodeInternalQueue, "corrupt job record", err)
		}
		return &prior, false, nil
	}

	q.emit(ctx, Event{Type: EventWaiting, Job: job})
	return job, true, nil
}

// reserveScript moves the oldest waiting id to active and writes its lease
// in one step, so an id is never active without a lease.
var reserveScript = redis.NewScript(`
local id = redis.call('RPOPLPUSH', KEYS[1], KEYS[2])
if not id then
  return false
end
redis.call('ZADD', KEYS[3], ARGV[1], id)
return id
`)

// leaseOrphansScript gives every active id without a lease one that is
// already due, handing it to stalled recovery.
var leaseOrphansScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
  n = n + redis.call('ZADD', KEYS[2], 'NX', ARGV[1], id)
end
return n
`)

// Reserve moves the oldest waiting job to active and leases it to the
// caller. It returns (nil, nil) when nothing is waiting. If the record
// cannot be read or updated afterwards the lease stays in place and the job
// comes back through RecoverStalled.
func (q *Queue) Reserve(ctx context.Context) (*Job, error) {
	now := q.opts.Clock.Now()
	scriptKeys := []string{q.keys.waiting, q.keys.active, q.keys.leases}
	id, err := reserveScript.Run(ctx, q.rdb, scriptKeys, score(now.Add(q.opts.LeaseTimeout))).Text()
	if errors.Is(err, redis.Nil) {
		if q.busy.CompareAndSwap(true, false) {
			q.emit(ctx, Event{Type: EventDrained})
		}
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to reserve job", err)
	}
	q.busy.Store(true)

	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// The record was cleaned while its id was still listed.
		_, _ = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LRem(ctx, q.keys.active, 1, id)
			p.ZRem(ctx, q.keys.leases, id)
			return nil
		})
		q.logger.Warn("dropping orphaned job id", "job_id", id)
		return nil, nil
	}

	job.State = StateActive
	job.Attempts++
	job.ProcessedAt = &now
	job.RetryAt = nil

	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.Set(ctx, q.keys.job(id), raw, 0).Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to lease job", err)
	}

	q.emit(ctx, Event{Type: EventActive, Job: job})
	return job, nil
}

// ExtendLease pushes the lease deadline of an active job forward.
func (q *Queue) ExtendLease(ctx context.Context, id string) error {
	deadline := q.opts.Clock.Now().Add(q.opts.LeaseTimeout)
	return q.rdb.ZAddXX(ctx, q.keys.leases, redis.Z{Score: score(deadline), Member: id}).Err()
}

// Complete marks an active job as completed. The record is kept for the
// completed retention period.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	now := q.opts.Clock.Now()
	job.State = StateCompleted
	job.FinishedAt = &now
	job.FailedReason = ""

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.keys.active, 1, job.ID)
		p.ZRem(ctx, q.keys.leases, job.ID)
		p.Set(ctx, q.keys.job(job.ID), raw, q.opts.RemoveOnComplete)
		p.ZAdd(ctx, q.keys.completed, redis.Z{Score: score(now), Member: job.ID})
		return nil
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to complete job", err)
	}

	q.emit(ctx, Event{Type: EventCompleted, Job: job})
	return nil
}

// Fail records a failed attempt. While attempts remain the job is parked in
// the delayed set for its backoff; otherwise it becomes terminally failed.
// The resulting state is returned.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (State, error) {
	now := q.opts.Clock.Now()
	if cause != nil {
		job.FailedReason = cause.Error()
	}

	terminal := job.Attempts >= job.MaxAttempts
	var delay time.Duration
	if terminal {
		job.State = StateFailed
		job.FinishedAt = &now
		job.RetryAt = nil
	} else {
		delay = CalculateNextRetry(q.opts.Retry, job.Attempts-1)
		retryAt := now.Add(delay)
		job.State = StateDelayed
		job.RetryAt = &retryAt
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.keys.active, 1, job.ID)
		p.ZRem(ctx, q.keys.leases, job.ID)
		if terminal {
			p.Set(ctx, q.keys.job(job.ID), raw, q.opts.RemoveOnFail)
			p.ZAdd(ctx, q.keys.failed, redis.Z{Score: score(now), Member: job.ID})
		} else {
			p.Set(ctx, q.keys.job(job.ID), raw, 0)
			p.ZAdd(ctx, q.keys.delayed, redis.Z{Score: score(*job.RetryAt), Member: job.ID})
		}
		return nil
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to record job failure", err)
	}

	q.emit(ctx, Event{Type: EventFailed, Job: job, Err: cause, Terminal: terminal, Delay: delay})
	return job.State, nil
}

// PromoteDelayed moves delayed jobs whose backoff has expired back to waiting.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	ids, err := q.due(ctx, q.keys.delayed)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, id := range ids {
		ok, err := q.transition(ctx, id, q.keys.delayed, func(p redis.Pipeliner, job *Job) {
			job.State = StateWaiting
			job.RetryAt = nil
			p.LPush(ctx, q.keys.waiting, id)
		})
		if err != nil {
			return moved, err
		}
		if ok {
			moved++
			q.emit(ctx, Event{Type: EventWaiting, JobID: id})
		}
	}
	return moved, nil
}

// RecoverStalled returns active jobs with an expired lease, or with no
// lease at all, to the head of the waiting list. Jobs that stall more than
// once are failed.
func (q *Queue) RecoverStalled(ctx context.Context) (int, error) {
	orphans, err := leaseOrphansScript.Run(ctx, q.rdb,
		[]string{q.keys.active, q.keys.leases}, score(q.opts.Clock.Now())).Int()
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalQueue, "failed to scan active jobs", err)
	}
	if orphans > 0 {
		q.logger.Warn("active jobs without lease found", "count", orphans)
	}

	ids, err := q.due(ctx, q.keys.leases)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		var stalled Job
		ok, err := q.transition(ctx, id, q.keys.leases, func(p redis.Pipeliner, job *Job) {
			p.LRem(ctx, q.keys.active, 1, id)
			job.Stalls++
			if job.Stalls > maxStalls {
				now := q.opts.Clock.Now()
				job.State = StateFailed
				job.FailedReason = ErrStalledTooOften.Error()
				job.FinishedAt = &now
				p.ZAdd(ctx, q.keys.failed, redis.Z{Score: score(now), Member: id})
			} else {
				job.State = StateWaiting
				p.RPush(ctx, q.keys.waiting, id)
			}
			stalled = *job
		})
		if err != nil {
			return recovered, err
		}
		if !ok {
			continue
		}
		recovered++
		q.emit(ctx, Event{Type: EventStalled, Job: &stalled})
		if stalled.State == StateFailed {
			q.emit(ctx, Event{Type: EventFailed, Job: &stalled, Err: ErrStalledTooOften, Terminal: true})
		}
	}
	return recovered, nil
}

// Clean removes completed and failed jobs older than their retention.
func (q *Queue) Clean(ctx context.Context) (int, error) {
	total := 0
	for _, c := range []struct {
		state State
		set   string
		keep  time.Duration
	}{
		{StateCompleted, q.keys.completed, q.opts.RemoveOnComplete},
		{StateFailed, q.keys.failed, q.opts.RemoveOnFail},
	} {
		cutoff := q.opts.Clock.Now().Add(-c.keep)
		ids, err := q.rdb.ZRangeByScore(ctx, c.set, &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
		}).Result()
		if err != nil {
			return total, types.NewAppError(types.ErrCodeInternalQueue, "failed to scan retention set", err)
		}
		if len(ids) == 0 {
			continue
		}

		_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, id := range ids {
				p.Del(ctx, q.keys.job(id))
				p.ZRem(ctx, c.set, id)
			}
			return nil
		})
		if err != nil {
			return total, types.NewAppError(types.ErrCodeInternalQueue, "failed to clean jobs", err)
		}
		total += len(ids)
		q.emit(ctx, Event{Type: EventCleaned, State: c.state, Count: len(ids)})
	}
	return total, nil
}

// GetJob returns the job record or a not-found AppError.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}
	return job, nil
}

// Counts returns the number of jobs per state.
func (q *Queue) Counts(ctx context.Context) (map[State]int64, error) {
	var (
		waiting, active, delayed, completed, failed *redis.IntCmd
	)
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		waiting = p.LLen(ctx, q.keys.waiting)
		active = p.LLen(ctx, q.keys.active)
		delayed = p.ZCard(ctx, q.keys.delayed)
		completed = p.ZCard(ctx, q.keys.completed)
		failed = p.ZCard(ctx, q.keys.failed)
		return nil
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to count jobs", err)
	}
	return map[State]int64{
		StateWaiting:   waiting.Val(),
		StateActive:    active.Val(),
		StateDelayed:   delayed.Val(),
		StateCompleted: completed.Val(),
		StateFailed:    failed.Val(),
	}, nil
}

func (q *Queue) load(ctx context.Context, id string) (*Job, error) {
	raw, err := q.rdb.Get(ctx, q.keys.job(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to load job", err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "corrupt job record", err)
	}
	return &job, nil
}

// due lists members of a score-indexed set whose deadline has passed.
func (q *Queue) due(ctx context.Context, set string) ([]string, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, set, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.opts.Clock.Now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to scan "+set, err)
	}
	return ids, nil
}

// transition atomically removes id from set and applies mutate to the job
// record. It reports false when another process already moved the job.
func (q *Queue) transition(ctx context.Context, id, set string, mutate func(p redis.Pipeliner, job *Job)) (bool, error) {
	jobKey := q.keys.job(id)
	moved := false

	txf := func(tx *redis.Tx) error {
		if _, err := tx.ZScore(ctx, set, id).Result(); err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		raw, err := tx.Get(ctx, jobKey).Bytes()
		if errors.Is(err, redis.Nil) {
			// Nothing to move; drop the dangling member.
			return tx.ZRem(ctx, set, id).Err()
		}
		if err != nil {
			return err
		}
		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZRem(ctx, set, id)
			mutate(p, &job)
			updated, merr := json.Marshal(&job)
			if merr != nil {
				return merr
			}
			ttl := time.Duration(0)
			if job.State == StateFailed {
				ttl = q.opts.RemoveOnFail
			}
			p.Set(ctx, jobKey, updated, ttl)
			return nil
		})
		if err == nil {
			moved = true
		}
		return err
	}

	if err := q.watch(ctx, txf, set, jobKey); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeInternalQueue, "failed to move job "+id, err)
	}
	return moved, nil
}

// watch runs an optimistic transaction, retrying when a watched key changed.
func (q *Queue) watch(ctx context.Context, fn func(*redis.Tx) error, watched ...string) error {
	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = q.rdb.Watch(ctx, fn, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
