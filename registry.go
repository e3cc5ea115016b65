package reactor

import (
	"runtime"
	"sync"
	"weak"
)

// loopRegistry maps goroutine ids to the loop confined to that goroutine.
// Entries are weak, so a loop that's dropped without Close doesn't pin.
var loopRegistry struct {
	loops map[uint64]weak.Pointer[EventLoop]
	mu    sync.Mutex
}

// registerLoop binds l to goroutine goid, failing if a live loop is already
// bound there.
func registerLoop(goid uint64, l *EventLoop) error {
	loopRegistry.mu.Lock()
	defer loopRegistry.mu.Unlock()
	if loopRegistry.loops == nil {
		loopRegistry.loops = make(map[uint64]weak.Pointer[EventLoop])
	}
	if wp, ok := loopRegistry.loops[goid]; ok && wp.Value() != nil {
		return ErrLoopExists
	}
	loopRegistry.loops[goid] = weak.Make(l)
	return nil
}

// unregisterLoop removes the binding for goid, if it still refers to l.
func unregisterLoop(goid uint64, l *EventLoop) {
	loopRegistry.mu.Lock()
	defer loopRegistry.mu.Unlock()
	if wp, ok := loopRegistry.loops[goid]; ok {
		if v := wp.Value(); v == nil || v == l {
			delete(loopRegistry.loops, goid)
		}
	}
}

// CurrentLoop returns the loop confined to the calling goroutine, or nil.
func CurrentLoop() *EventLoop {
	goid := getGoroutineID()
	loopRegistry.mu.Lock()
	defer loopRegistry.mu.Unlock()
	if wp, ok := loopRegistry.loops[goid]; ok {
		return wp.Value()
	}
	return nil
}

// getGoroutineID parses the id out of the "goroutine N [...]" stack header.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
