package job

import (
	"sync"
)

// Queue owns jobs from submission until they complete. Jobs are kept in
// submission order; completed jobs leave the queue, failed ones stay until
// removed.
type Queue struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string // FIFO order
}

func NewQueue() *Queue {
	return &Queue{
		jobs:  make(map[string]*Job),
		order: make([]string, 0),
	}
}

// Enqueue creates a pending job at the tail of the queue.
func (q *Queue) Enqueue(prompt string, ratio AspectRatio, referenceImages []string) (Job, error) {
	j, err := New(prompt, ratio, referenceImages)
	if err != nil {
		return Job{}, err
	}
	q.add(j)
	return j.clone(), nil
}

func (q *Queue) add(j *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[j.ID] = j
	q.order = append(q.order, j.ID)
}

func (q *Queue) Get(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// NextPending returns the earliest-submitted pending job.
func (q *Queue) NextPending() (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, id := range q.order {
		if j := q.jobs[id]; j.Status == StatusPending {
			return j.clone(), true
		}
	}
	return Job{}, false
}

// HasPending reports whether any job is waiting to be processed.
func (q *Queue) HasPending() bool {
	_, ok := q.NextPending()
	return ok
}

// MarkProcessing moves a pending job to processing. It refuses while any
// other job is processing, and is a no-op for unknown ids.
func (q *Queue) MarkProcessing(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok || j.Status != StatusPending {
		return false
	}
	for _, other := range q.jobs {
		if other.Status == StatusProcessing {
			return false
		}
	}
	j.Status = StatusProcessing
	return true
}

// MarkCompleted removes the job; its result lives on in the gallery.
func (q *Queue) MarkCompleted(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id)
}

func (q *Queue) MarkFailed(id, message string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return false
	}
	j.Status = StatusFailed
	j.Error = message
	return true
}

// Remove drops a pending or failed job. Processing jobs cannot be removed
// because their outcome is still on its way.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status == StatusProcessing {
		return ErrJobProcessing
	}
	q.removeLocked(id)
	return nil
}

func (q *Queue) removeLocked(id string) bool {
	if _, ok := q.jobs[id]; !ok {
		return false
	}
	delete(q.jobs, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns a snapshot of the queue in submission order.
func (q *Queue) List() []Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Job, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.jobs[id].clone())
	}
	return out
}

func (q *Queue) Stats() (pending, processing, failed int) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, j := range q.jobs {
		switch j.Status {
		case StatusPending:
			pending++
		case StatusProcessing:
			processing++
		case StatusFailed:
			failed++
		}
	}
	return
}
