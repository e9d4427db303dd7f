package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSleepLockExclusion(t *testing.T) {
	l := NewSleepLock("test")
	require.False(t, l.Held())

	l.Acquire()
	require.True(t, l.Held())

	acquired := make(chan bool)
	go func() {
		l.Acquire()
		acquired <- true
	}()

	// The second acquirer stays blocked until we release.
	select {
	case <-acquired:
		t.Fatal("lock acquired while already held")
	case <-time.After(10 * time.Millisecond):
	}

	l.Release()
	<-acquired
	require.True(t, l.Held())
	l.Release()
	require.False(t, l.Held())
}

func TestSleepLockReleaseUnheld(t *testing.T) {
	l := NewSleepLock("test")
	require.Panics(t, func() { l.Release() })
}
