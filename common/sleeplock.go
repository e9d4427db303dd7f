package common

// A SleepLock is a long-held mutual exclusion lock: a caller that finds it
// taken is descheduled until the holder releases it, so it may be held
// across device I/O. Unlike sync.Mutex it can report whether it is currently
// held, which the cache uses to catch write and release calls from callers
// that never locked the buffer.
type SleepLock struct {
	name string // for diagnostics
	sem  chan struct{}
}

func NewSleepLock(name string) *SleepLock {
	return &SleepLock{name: name, sem: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is free, then takes it.
func (l *SleepLock) Acquire() {
	l.sem <- struct{}{}
}

// Release frees the lock. Releasing a lock that is not held is a bug in the
// caller.
func (l *SleepLock) Release() {
	select {
	case <-l.sem:
	default:
		panic("sleeplock: release of unheld lock: " + l.name)
	}
}

// Held reports whether the lock is currently taken.
func (l *SleepLock) Held() bool {
	return len(l.sem) > 0
}
