package mirror

import (
	"fmt"
	"sync"
)

type jobKind int

const (
	jobProject jobKind = iota + 1
	jobPackage
	jobPackageMeta
)

type job struct {
	kind    jobKind
	project string
	pkg     string
	opts    CheckoutOptions
}

func (j job) String() string {
	switch j.kind {
	case jobProject:
		return "project " + j.project
	case jobPackage:
		return fmt.Sprintf("package %s/%s", j.project, j.pkg)
	case jobPackageMeta:
		return fmt.Sprintf("meta %s/%s", j.project, j.pkg)
	}
	return "unknown job"
}

// queue is an unbounded FIFO drained by a pool of workers. Workers push new
// jobs while draining, so a push never blocks. pop returns false once the
// queue is empty and no popped job is still being processed.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []job
	active int
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(j job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *queue) pop() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.jobs) == 0 {
		if q.active == 0 {
			q.cond.Broadcast()
			return job{}, false
		}
		q.cond.Wait()
	}

	j := q.jobs[0]
	q.jobs[0] = job{}
	q.jobs = q.jobs[1:]
	q.active++
	return j, true
}

// done marks a popped job as processed. It must be called exactly once per
// successful pop, whatever the outcome of the job.
func (q *queue) done() {
	q.mu.Lock()
	q.active--
	idle := q.active == 0 && len(q.jobs) == 0
	q.mu.Unlock()
	if idle {
		q.cond.Broadcast()
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
