package bridge

import (
	"sync"
	"time"

	"github.com/valpere/batchtran/internal"
	"github.com/valpere/batchtran/internal/orchestrator"
)

// replyLog collects the replies of one task so HTTP clients can poll them.
type replyLog struct {
	mu      sync.Mutex
	taskID  string
	replies []internal.Reply
}

func newReplyLog(taskID string) *replyLog {
	return &replyLog{taskID: taskID}
}

func (l *replyLog) Reply(_ string, reply internal.Reply) {
	l.mu.Lock()
	l.replies = append(l.replies, reply)
	l.mu.Unlock()
}

// since returns the replies from index n on, and the index to poll from next.
func (l *replyLog) since(n int) ([]internal.Reply, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if n >= len(l.replies) {
		return []internal.Reply{}, len(l.replies)
	}
	out := make([]internal.Reply, len(l.replies)-n)
	copy(out, l.replies[n:])
	return out, len(l.replies)
}

type trackedJob struct {
	run       *orchestrator.Run
	log       *replyLog
	createdAt time.Time
}

// jobTable holds live and recently finished jobs. Finished jobs are evicted
// after the retention period; their history stays in the store.
type jobTable struct {
	mu        sync.Mutex
	jobs      map[string]*trackedJob
	retention time.Duration
}

func newJobTable(retention time.Duration) *jobTable {
	return &jobTable{
		jobs:      make(map[string]*trackedJob),
		retention: retention,
	}
}

func (t *jobTable) add(run *orchestrator.Run, log *replyLog) {
	t.mu.Lock()
	t.jobs[run.ID] = &trackedJob{run: run, log: log, createdAt: time.Now()}
	t.mu.Unlock()

	go func() {
		<-run.Done()
		time.AfterFunc(t.retention, func() { t.remove(run.ID) })
	}()
}

func (t *jobTable) get(id string) (*trackedJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	return job, ok
}

func (t *jobTable) remove(id string) {
	t.mu.Lock()
	delete(t.jobs, id)
	t.mu.Unlock()
}

// cancelAll cancels every job that has not finished yet.
func (t *jobTable) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, job := range t.jobs {
		job.run.Cancel()
	}
}
