package archive

import (
	"log"
	"sync"
	"time"
)

// Job is one snapshot waiting to be mirrored.
type Job struct {
	ProjectID string
	Index     int
	Code      string
	Message   string
	Author    string
	At        time.Time
}

// Writer records jobs on its own goroutine in submission order. Submit never
// blocks on disk, so it is safe to call while holding a project lock.
type Writer struct {
	mirror *GitMirror

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Job
	busy    bool
	closed  bool
	done    chan struct{}
}

func NewWriter(mirror *GitMirror) *Writer {
	w := &Writer{mirror: mirror, done: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Submit queues job. It reports false once the writer is closed.
func (w *Writer) Submit(job Job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.pending = append(w.pending, job)
	w.cond.Broadcast()
	return true
}

// Flush waits until every job submitted so far has been recorded.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.pending) > 0 || w.busy {
		w.cond.Wait()
	}
}

// Close records the remaining jobs and stops the writer.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.cond.Broadcast()
	}
	w.mu.Unlock()
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.pending) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.pending) == 0 {
			w.mu.Unlock()
			return
		}
		job := w.pending[0]
		w.pending = w.pending[1:]
		w.busy = true
		w.mu.Unlock()

		if _, err := w.mirror.Record(job.ProjectID, job.Index, job.Code, job.Message, job.Author, job.At); err != nil {
			log.Printf("archive: mirror %s snapshot %d: %v", job.ProjectID, job.Index, err)
		}

		w.mu.Lock()
		w.busy = false
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}
