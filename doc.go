// Package reactor provides a reactor-pattern event loop for Go, featuring
// descriptor readiness dispatch, timerfd-backed timers, safe cross-goroutine
// task injection, and a pool of loop goroutines.
//
// # Architecture
//
// An [EventLoop] is confined to the goroutine that created it, which locks
// itself to an OS thread for the duration of [EventLoop.Run]. Each loop owns:
//   - a [Poller], either the flat-table poll(2) variant or the kernel-set
//     epoll(7) variant, selected once via [WithPoller]
//   - a timer queue, driven by a single timerfd registered as a [Channel]
//   - an eventfd wake [Channel], used to break out of the blocking wait
//   - a mutex-guarded queue of pending tasks
//
// A [Channel] binds one file descriptor to one loop. It holds the interest
// mask, the last readiness mask, and the read/write/error/close callbacks.
// Channels are owned by whatever created them, never by the loop.
//
// # Execution Model
//
// Every iteration of [EventLoop.Run]:
//  1. blocks in the poller, for at most the poll timeout (default 10s)
//  2. dispatches each ready channel, in the order the poller reported them
//  3. drains the pending tasks queued via [EventLoop.QueueInLoop]
//
// Tasks queued during step 3 run in the next iteration, never the current
// one. Timers are ordinary readiness events on the timerfd channel.
//
// # Thread Safety
//
// The following are safe to call from any goroutine:
//   - [EventLoop.Quit], [EventLoop.RunInLoop], [EventLoop.QueueInLoop]
//   - [EventLoop.RunAt], [EventLoop.RunAfter], [EventLoop.RunEvery],
//     [EventLoop.Cancel]
//   - [EventLoop.IsInLoopThread], [EventLoop.Metrics]
//
// Everything that touches registration state ([Channel] enable/disable,
// [Channel.Remove], [EventLoop.UpdateChannel], [EventLoop.RemoveChannel])
// must run on the loop goroutine. Violations panic with a [*FatalError].
//
// # Usage
//
//	thread := reactor.NewEventLoopThread(nil, "worker")
//	loop, err := thread.StartLoop()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer thread.Stop()
//
//	loop.RunAfter(100*time.Millisecond, func() {
//	    fmt.Println("Hello after 100ms")
//	})
//
// # Platform Support
//
// Linux only: epoll, poll, eventfd and timerfd via golang.org/x/sys/unix.
package reactor
