package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoopThread_StartAndStop(t *testing.T) {
	var initLoop *EventLoop
	var initInLoop bool
	thread := NewEventLoopThread(func(l *EventLoop) {
		initLoop = l
		initInLoop = l.IsInLoopThread() && CurrentLoop() == l
	}, "worker")
	assert.Equal(t, "worker", thread.Name())

	loop, err := thread.StartLoop()
	require.NoError(t, err)
	require.NotNil(t, loop)
	assert.Same(t, loop, initLoop)
	assert.True(t, initInLoop)
	assert.False(t, loop.IsInLoopThread())

	fired := make(chan struct{})
	loop.RunAfter(time.Millisecond, func() { close(fired) })
	<-fired

	require.NoError(t, thread.Stop())
	assert.Equal(t, StateStopped, loop.State())
	require.NoError(t, thread.Stop(), "stopping twice is harmless")
}

func TestEventLoopThread_StartTwicePanics(t *testing.T) {
	thread := NewEventLoopThread(nil, "worker")
	_, err := thread.StartLoop()
	require.NoError(t, err)
	defer func() { assert.NoError(t, thread.Stop()) }()

	fe := catchFatal(func() { _, _ = thread.StartLoop() })
	require.NotNil(t, fe)
	assert.ErrorIs(t, fe, ErrThreadAlreadyStarted)
}

func TestEventLoopThread_StopWithoutStart(t *testing.T) {
	assert.NoError(t, NewEventLoopThread(nil, "idle").Stop())
}

func TestEventLoopThread_NewFails(t *testing.T) {
	thread := NewEventLoopThread(nil, "broken", WithPollTimeout(0))
	loop, err := thread.StartLoop()
	require.ErrorIs(t, err, ErrInvalidOption)
	assert.Nil(t, loop)
	assert.ErrorIs(t, thread.Stop(), ErrInvalidOption)
}
