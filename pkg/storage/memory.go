package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/tenant-jobs/pkg/core"
	"github.com/jdziat/tenant-jobs/pkg/events"
	"github.com/jdziat/tenant-jobs/pkg/security"
)

// Defaults used when no option overrides them.
const (
	DefaultLeaseDuration = 30 * time.Second
	DefaultEventBuffer   = 256
)

// LeaseExpiredMessage is recorded as LastError when the reaper reclaims a job.
const LeaseExpiredMessage = "lease expired"

// MemoryStore is the in-memory reference backend.
type MemoryStore struct {
	now             func() time.Time
	leaseDuration   time.Duration
	maxPayloadBytes int
	defaultQueue    core.QueueName
	eventBuffer     int
	logger          *slog.Logger
	hub             *events.Hub

	mu         sync.Mutex
	jobs       map[core.JobID]*core.JobRecord
	idem       map[idemKey]core.JobID
	ready      readyIndex
	grants     map[core.LeaseToken]core.JobID
	issued     map[core.JobID][]core.LeaseToken
	processing map[core.JobID]struct{}
}

var (
	_ core.Backend       = (*MemoryStore)(nil)
	_ core.LeaseExtender = (*MemoryStore)(nil)
	_ core.Reclaimer     = (*MemoryStore)(nil)
	_ core.Inspector     = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		now:             time.Now,
		leaseDuration:   DefaultLeaseDuration,
		maxPayloadBytes: security.DefaultMaxPayloadBytes,
		defaultQueue:    core.DefaultQueue,
		eventBuffer:     DefaultEventBuffer,
		logger:          slog.Default(),
		hub:             events.NewHub(),
		jobs:            make(map[core.JobID]*core.JobRecord),
		idem:            make(map[idemKey]core.JobID),
		ready:           make(readyIndex),
		grants:          make(map[core.LeaseToken]core.JobID),
		issued:          make(map[core.JobID][]core.LeaseToken),
		processing:      make(map[core.JobID]struct{}),
	}
	for _, opt := range opts {
		opt.applyStore(s)
	}
	return s
}

// Capabilities reports that every optional feature is supported.
func (s *MemoryStore) Capabilities() core.Capabilities {
	return core.Capabilities{
		LeaseExtension:    true,
		DelayedRun:        true,
		Priorities:        true,
		IdempotentEnqueue: true,
		EventStream:       true,
		MaxPayloadBytes:   s.maxPayloadBytes,
	}
}

func begin(ctx context.Context, qc core.QueueCtx) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return security.ValidateTenant(qc.TenantID)
}

// Enqueue stores a new job or returns the live job holding the same idempotency key.
func (s *MemoryStore) Enqueue(ctx context.Context, qc core.QueueCtx, msg core.JobMessage) (core.JobID, error) {
	if err := begin(ctx, qc); err != nil {
		return "", err
	}
	if err := security.ValidateMessage(msg, s.maxPayloadBytes); err != nil {
		return "", err
	}

	if msg.Queue == "" {
		msg.Queue = s.defaultQueue
	}
	if msg.Codec == "" {
		msg.Codec = core.CodecJSON
	}
	if msg.Payload != nil {
		msg.Payload = append([]byte(nil), msg.Payload...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if msg.RunAt.IsZero() {
		msg.RunAt = now
	}

	var ik idemKey
	if msg.IdempotencyKey != "" {
		ik = idemKey{tenant: qc.TenantID, queue: msg.Queue, typ: msg.Type, key: msg.IdempotencyKey}
		if existing, ok := s.idem[ik]; ok {
			return existing, nil
		}
	}

	uid, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("%w: generate job id: %v", core.ErrInternal, err)
	}
	rec := &core.JobRecord{
		ID:        core.JobID(uid.String()),
		TenantID:  qc.TenantID,
		Message:   msg,
		Status:    core.Enqueued(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[rec.ID] = rec
	if msg.IdempotencyKey != "" {
		s.idem[ik] = rec.ID
	}
	s.ready.insert(queueKey{qc.TenantID, msg.Queue}, readyEntry{
		id:         rec.ID,
		priority:   msg.Priority,
		createdAt:  rec.CreatedAt,
		eligibleAt: msg.RunAt,
	})

	s.publish(rec, core.EventEnqueued, now)
	return rec.ID, nil
}

// Dequeue leases the best eligible job among queues, or returns nil when none is eligible.
func (s *MemoryStore) Dequeue(ctx context.Context, qc core.QueueCtx, queues []core.QueueName) (*core.LeasedJob, error) {
	if err := begin(ctx, qc); err != nil {
		return nil, err
	}
	if len(queues) == 0 {
		queues = []core.QueueName{s.defaultQueue}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var (
		bestKey   queueKey
		bestPos   int
		bestEntry readyEntry
		found     bool
	)
	for _, q := range queues {
		k := queueKey{qc.TenantID, q}
		pos, ok := s.ready.first(k, now)
		if !ok {
			continue
		}
		e := s.ready[k][pos]
		if !found || compareReady(e, bestEntry) < 0 {
			bestKey, bestPos, bestEntry, found = k, pos, e, true
		}
	}
	if !found {
		return nil, nil
	}

	s.ready.removeAt(bestKey, bestPos)

	rec := s.jobs[bestEntry.id]
	token := core.LeaseToken(uuid.NewString())
	until := now.Add(s.leaseDuration)

	rec.Attempt++
	rec.Status = core.Processing(until)
	rec.LeaseToken = token
	rec.LeaseUntil = &until
	rec.UpdatedAt = now
	s.grants[token] = rec.ID
	s.issued[rec.ID] = append(s.issued[rec.ID], token)
	s.processing[rec.ID] = struct{}{}

	s.publish(rec, core.EventLeased, now)
	return &core.LeasedJob{Job: rec.Clone(), Token: token, LeaseUntil: until}, nil
}

// checkLease validates an acknowledgment against the ledger. Callers hold mu.
func (s *MemoryStore) checkLease(qc core.QueueCtx, id core.JobID, token core.LeaseToken, now time.Time) (*core.JobRecord, error) {
	rec, ok := s.jobs[id]
	if !ok || rec.TenantID != qc.TenantID {
		return nil, core.ErrJobNotFound
	}
	switch {
	case rec.Status.State == core.StateCanceled:
		return nil, core.ErrJobCanceled
	case rec.Status.IsTerminal():
		return nil, core.ErrJobAlreadyTerminal
	}
	if owner, ok := s.grants[token]; !ok || owner != id {
		return nil, core.ErrInvalidLeaseToken
	}
	if rec.Status.State != core.StateProcessing || rec.LeaseToken != token ||
		rec.LeaseUntil == nil || !now.Before(*rec.LeaseUntil) {
		return nil, core.ErrLeaseExpired
	}
	return rec, nil
}

// AckComplete moves a leased job to completed.
func (s *MemoryStore) AckComplete(ctx context.Context, qc core.QueueCtx, id core.JobID, token core.LeaseToken, result core.ResultRef) error {
	if err := begin(ctx, qc); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, err := s.checkLease(qc, id, token, now)
	if err != nil {
		return err
	}
	rec.Status = core.Completed()
	rec.Result = result
	rec.LastError = ""
	s.settle(rec, now)
	s.publish(rec, core.EventCompleted, now)
	return nil
}

// AckFail records a failed attempt. A non-nil retryAt schedules another attempt
// when the job has retries left; otherwise the job fails.
func (s *MemoryStore) AckFail(ctx context.Context, qc core.QueueCtx, id core.JobID, token core.LeaseToken, errMsg string, retryAt *time.Time) error {
	if err := begin(ctx, qc); err != nil {
		return err
	}
	errMsg = security.SanitizeErrorMessage(errMsg)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, err := s.checkLease(qc, id, token, now)
	if err != nil {
		return err
	}
	if retryAt != nil && rec.RetriesLeft() {
		s.retry(rec, *retryAt, errMsg, now)
		return nil
	}
	s.fail(rec, errMsg, now)
	return nil
}

// retry moves a processing job back into the ordering index. Callers hold mu.
func (s *MemoryStore) retry(rec *core.JobRecord, at time.Time, errMsg string, now time.Time) {
	rec.Status = core.Retrying(at, errMsg)
	rec.LastError = errMsg
	rec.LeaseToken = ""
	rec.LeaseUntil = nil
	rec.UpdatedAt = now
	delete(s.processing, rec.ID)
	s.ready.insert(queueKey{rec.TenantID, rec.Message.Queue}, readyEntry{
		id:         rec.ID,
		priority:   rec.Message.Priority,
		createdAt:  rec.CreatedAt,
		eligibleAt: at,
	})
	s.publish(rec, core.EventRetrying, now)
}

// fail moves a job to failed. Callers hold mu.
func (s *MemoryStore) fail(rec *core.JobRecord, errMsg string, now time.Time) {
	rec.Status = core.Failed(errMsg)
	rec.LastError = errMsg
	s.settle(rec, now)
	s.publish(rec, core.EventFailed, now)
}

// settle clears lease state and index entries of a job that just became terminal.
func (s *MemoryStore) settle(rec *core.JobRecord, now time.Time) {
	rec.LeaseToken = ""
	rec.LeaseUntil = nil
	rec.UpdatedAt = now
	delete(s.processing, rec.ID)
	for _, tok := range s.issued[rec.ID] {
		delete(s.grants, tok)
	}
	delete(s.issued, rec.ID)
	if key := rec.Message.IdempotencyKey; key != "" {
		ik := idemKey{tenant: rec.TenantID, queue: rec.Message.Queue, typ: rec.Message.Type, key: key}
		if s.idem[ik] == rec.ID {
			delete(s.idem, ik)
		}
	}
}

// Cancel moves a non-terminal job to canceled. It returns false for terminal jobs.
func (s *MemoryStore) Cancel(ctx context.Context, qc core.QueueCtx, id core.JobID) (bool, error) {
	if err := begin(ctx, qc); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok || rec.TenantID != qc.TenantID {
		return false, core.ErrJobNotFound
	}
	if rec.Status.IsTerminal() {
		return false, nil
	}

	now := s.now()
	if rec.Status.State.Eligible() {
		s.ready.remove(queueKey{rec.TenantID, rec.Message.Queue}, rec.ID)
	}
	rec.Status = core.Canceled()
	rec.LastError = ""
	s.settle(rec, now)
	s.publish(rec, core.EventCanceled, now)
	return true, nil
}

// GetStatus returns a snapshot of the job's status.
func (s *MemoryStore) GetStatus(ctx context.Context, qc core.QueueCtx, id core.JobID) (core.JobStatus, error) {
	rec, err := s.GetJob(ctx, qc, id)
	if err != nil {
		return core.JobStatus{}, err
	}
	return rec.Status, nil
}

// ExtendLease renews a live lease for another lease duration.
func (s *MemoryStore) ExtendLease(ctx context.Context, qc core.QueueCtx, id core.JobID, token core.LeaseToken) (time.Time, error) {
	if err := begin(ctx, qc); err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, err := s.checkLease(qc, id, token, now)
	if err != nil {
		return time.Time{}, err
	}
	until := now.Add(s.leaseDuration)
	rec.Status = core.Processing(until)
	rec.LeaseUntil = &until
	rec.UpdatedAt = now
	return until, nil
}

// ReclaimExpired converts processing jobs whose lease has lapsed into retrying
// jobs, or failed jobs when no retries remain.
func (s *MemoryStore) ReclaimExpired(ctx context.Context, backoff core.Backoff) (core.ReclaimResult, error) {
	var res core.ReclaimResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expired := make([]*core.JobRecord, 0)
	for id := range s.processing {
		rec := s.jobs[id]
		if rec.LeaseUntil != nil && rec.LeaseUntil.Before(now) {
			expired = append(expired, rec)
		}
	}
	// Deterministic event order within a sweep.
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })

	for _, rec := range expired {
		s.logger.Debug("reclaiming expired lease",
			"job_id", rec.ID,
			"tenant", rec.TenantID,
			"attempt", rec.Attempt,
		)
		if rec.RetriesLeft() {
			s.retry(rec, now.Add(backoff.Delay(rec.Attempt)), LeaseExpiredMessage, now)
			res.Retrying++
			continue
		}
		s.fail(rec, LeaseExpiredMessage, now)
		res.Failed++
	}
	return res, nil
}

// GetJob returns a copy of the job record.
func (s *MemoryStore) GetJob(ctx context.Context, qc core.QueueCtx, id core.JobID) (*core.JobRecord, error) {
	if err := begin(ctx, qc); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok || rec.TenantID != qc.TenantID {
		return nil, core.ErrJobNotFound
	}
	return rec.Clone(), nil
}

// ListJobs returns copies of the tenant's jobs in creation order. An empty
// state matches every state; a non-positive limit returns all matches.
func (s *MemoryStore) ListJobs(ctx context.Context, qc core.QueueCtx, state core.State, limit int) ([]*core.JobRecord, error) {
	if err := begin(ctx, qc); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]*core.JobRecord, 0)
	for _, rec := range s.jobs {
		if rec.TenantID != qc.TenantID {
			continue
		}
		if state != "" && rec.Status.State != state {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events subscribes to the tenant's events. The stream closes when ctx ends or
// Close is called.
func (s *MemoryStore) Events(ctx context.Context, qc core.QueueCtx) (core.EventStream, error) {
	if err := begin(ctx, qc); err != nil {
		return nil, err
	}
	sub := s.hub.Subscribe(qc.TenantID, s.eventBuffer)
	stop := context.AfterFunc(ctx, sub.Close)
	return &stream{Subscription: sub, stop: stop}, nil
}

type stream struct {
	*events.Subscription
	stop func() bool
}

func (st *stream) Close() {
	st.stop()
	st.Subscription.Close()
}

// publish emits an event for rec's current state. Callers hold mu, which keeps
// per-job event order equal to transition order.
func (s *MemoryStore) publish(rec *core.JobRecord, kind core.EventKind, now time.Time) {
	ev := core.JobEvent{
		Kind:      kind,
		JobID:     rec.ID,
		TenantID:  rec.TenantID,
		Queue:     rec.Message.Queue,
		JobType:   rec.Message.Type,
		Attempt:   rec.Attempt,
		Timestamp: now,
	}
	switch kind {
	case core.EventLeased:
		t := *rec.LeaseUntil
		ev.LeaseUntil = &t
	case core.EventRetrying:
		t := *rec.Status.RetryAt
		ev.RetryAt = &t
		ev.Error = rec.LastError
	case core.EventFailed:
		ev.Error = rec.LastError
	case core.EventCompleted:
		ev.Result = rec.Result
	}
	s.hub.Publish(ev)
}
