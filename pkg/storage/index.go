package storage

import (
	"slices"
	"strings"
	"time"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

type queueKey struct {
	tenant core.TenantID
	queue  core.QueueName
}

type idemKey struct {
	tenant core.TenantID
	queue  core.QueueName
	typ    core.JobType
	key    string
}

// readyEntry is a job waiting in the ordering index. eligibleAt is run_at for
// enqueued jobs and retry_at for retrying ones.
type readyEntry struct {
	id         core.JobID
	priority   core.Priority
	createdAt  time.Time
	eligibleAt time.Time
}

// compareReady orders by priority desc, created_at asc, id asc.
func compareReady(a, b readyEntry) int {
	if a.priority != b.priority {
		if a.priority > b.priority {
			return -1
		}
		return 1
	}
	if c := a.createdAt.Compare(b.createdAt); c != 0 {
		return c
	}
	return strings.Compare(string(a.id), string(b.id))
}

// readyIndex keeps one sorted slice per (tenant, queue).
type readyIndex map[queueKey][]readyEntry

func (ix readyIndex) insert(k queueKey, e readyEntry) {
	q := ix[k]
	i, _ := slices.BinarySearchFunc(q, e, compareReady)
	ix[k] = slices.Insert(q, i, e)
}

func (ix readyIndex) remove(k queueKey, id core.JobID) {
	if i := slices.IndexFunc(ix[k], func(e readyEntry) bool { return e.id == id }); i >= 0 {
		ix.removeAt(k, i)
	}
}

func (ix readyIndex) removeAt(k queueKey, i int) {
	q := slices.Delete(ix[k], i, i+1)
	if len(q) == 0 {
		delete(ix, k)
		return
	}
	ix[k] = q
}

// first returns the position of the best entry eligible at now.
func (ix readyIndex) first(k queueKey, now time.Time) (int, bool) {
	for i, e := range ix[k] {
		if !e.eligibleAt.After(now) {
			return i, true
		}
	}
	return 0, false
}
