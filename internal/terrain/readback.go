package terrain

import (
	"log"
	"sync"

	"github.com/zarigata/erathia-terrain/internal/compute"
)

// transferJob is one pending device-to-host copy. apply runs on the worker
// goroutine with the transferred bytes; it is expected to take the cache lock
// itself for any shared-state mutation.
type transferJob struct {
	key         CacheKey
	primary     *compute.Handle
	primarySize int
	aux         *compute.Handle
	auxSize     int
	apply       func(primary, aux []byte)
}

// readbackWorker performs the only blocking device operations on a dedicated
// goroutine, keeping host transfers off the frame path.
type readbackWorker struct {
	backend Backend

	mu      sync.Mutex
	running bool
	jobs    chan transferJob
	done    chan struct{}
}

func newReadbackWorker(backend Backend) *readbackWorker {
	return &readbackWorker{backend: backend}
}

// Start launches the worker goroutine. Idempotent.
func (w *readbackWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.jobs = make(chan transferJob, 256)
	w.done = make(chan struct{})
	w.running = true
	go w.loop(w.jobs, w.done)
}

// Stop drains no further jobs and waits for the goroutine to exit.
// Idempotent; must not be called from the worker goroutine itself.
func (w *readbackWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	jobs, done := w.jobs, w.done
	w.mu.Unlock()

	close(jobs)
	<-done
}

// Submit queues one transfer. Returns false if the worker is stopped or the
// queue is full; the caller may retry on a later frame.
func (w *readbackWorker) Submit(job transferJob) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return false
	}
	select {
	case w.jobs <- job:
		return true
	default:
		return false
	}
}

func (w *readbackWorker) loop(jobs chan transferJob, done chan struct{}) {
	defer close(done)
	for job := range jobs {
		w.run(job)
	}
}

func (w *readbackWorker) run(job transferJob) {
	if !job.primary.Valid() {
		// Entry was evicted before the transfer ran; wasted work, not an
		// error.
		return
	}

	primary, err := w.backend.ReadBuffer(job.primary, 0, job.primarySize)
	if err != nil {
		log.Printf("terrain: readback %s failed: %v", job.key, err)
		return
	}

	var aux []byte
	if job.aux != nil && job.aux.Valid() {
		aux, err = w.backend.ReadBuffer(job.aux, 0, job.auxSize)
		if err != nil {
			log.Printf("terrain: readback %s (aux) failed: %v", job.key, err)
			return
		}
	}

	job.apply(primary, aux)
}
