package reactor

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var pollerKinds = []PollerKind{PollerEpoll, PollerPoll}

// newTestLoop creates a loop confined to the test goroutine, without running
// it. Cleanup closes it.
func newTestLoop(t *testing.T, opts ...LoopOption) *EventLoop {
	t.Helper()
	l, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := l.Close(); err != nil && !errors.Is(err, ErrLoopClosed) {
			t.Errorf("close loop: %v", err)
		}
	})
	return l
}

// startLoopThread runs a loop on its own goroutine. Cleanup stops it.
func startLoopThread(t *testing.T, opts ...LoopOption) *EventLoop {
	t.Helper()
	thread := NewEventLoopThread(nil, t.Name(), opts...)
	loop, err := thread.StartLoop()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, thread.Stop())
	})
	return loop
}

// runSync runs fn on the loop goroutine and waits for it to return.
func runSync(t *testing.T, loop *EventLoop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	loop.QueueInLoop(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for loop task")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, time.Millisecond)
}

// catchFatal runs fn, returning the *FatalError it panicked with, or nil.
func catchFatal(fn func()) (fe *FatalError) {
	defer func() {
		if r := recover(); r != nil {
			var ok bool
			if fe, ok = r.(*FatalError); !ok {
				panic(r)
			}
		}
	}()
	fn()
	return nil
}

func requireFatal(t *testing.T, target error, fn func()) {
	t.Helper()
	fe := catchFatal(fn)
	require.NotNil(t, fe, "expected a fatal panic")
	require.ErrorIs(t, fe, target)
}

// newPipe returns a non-blocking pipe, closed on cleanup.
func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})
	return p[0], p[1]
}

func writeByte(t *testing.T, fd int) {
	t.Helper()
	n, err := unix.Write(fd, []byte{'x'})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func containsChannel(active []*Channel, c *Channel) bool {
	for _, a := range active {
		if a == c {
			return true
		}
	}
	return false
}

// syncBuffer is a bytes.Buffer safe for use as a log sink across goroutines.
type syncBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelTrace),
	).Logger()
}
