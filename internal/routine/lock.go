package routine

import "sync"

// ExecLock is the process-wide mutual-exclusion token: at most one routine
// runs at any instant. It is a size-1 semaphore with a non-blocking acquire,
// because a contended scheduled fire must fail fast, never queue.
type ExecLock struct {
	sem chan struct{}

	mu    sync.Mutex
	owner string
}

func NewExecLock() *ExecLock {
	return &ExecLock{sem: make(chan struct{}, 1)}
}

// TryAcquire takes the lock without blocking. owner is the routine name,
// kept for status output only.
func (l *ExecLock) TryAcquire(owner string) bool {
	select {
	case l.sem <- struct{}{}:
		l.mu.Lock()
		l.owner = owner
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release returns the lock. Releasing an unheld lock is a no-op, so every
// exit path of a run can release unconditionally.
func (l *ExecLock) Release() {
	l.mu.Lock()
	l.owner = ""
	l.mu.Unlock()
	select {
	case <-l.sem:
	default:
	}
}

// Owner returns the name of the routine currently holding the lock, or "".
func (l *ExecLock) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}
