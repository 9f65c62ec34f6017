package core

import (
	"sync"
	"sync/atomic"

	"servostep/protocol"
)

// ShutdownError is returned by handlers whose request put the firmware
// into the shutdown state.
type ShutdownError struct {
	Reason string
}

func (e *ShutdownError) Error() string {
	return "shutdown: " + e.Reason
}

// ShutdownHandler is implemented by configured objects that must put
// hardware in a safe state on shutdown (Klipper's DECL_SHUTDOWN)
type ShutdownHandler interface {
	OnShutdown()
}

var (
	shutdownMu     sync.Mutex
	shutdownHooks  []func()
	shutdownReason atomic.Value // string
)

// RegisterShutdownHook adds a function run once when the firmware shuts
// down. Hooks must not block; they typically turn outputs off.
func RegisterShutdownHook(hook func()) {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	shutdownHooks = append(shutdownHooks, hook)
}

// Shutdown halts the firmware with a reason (Klipper's shutdown()).
// The first call latches the state, stops all timers, runs the shutdown
// hooks and reports the reason to the host. It is safe to call from timer
// context. The returned error is meant to be propagated by command handlers.
func Shutdown(reason string) error {
	err := &ShutdownError{Reason: reason}
	if !atomic.CompareAndSwapUint32(&globalState.isShutdown, 0, 1) {
		return err
	}
	shutdownReason.Store(reason)

	clearTimers()

	shutdownMu.Lock()
	hooks := make([]func(), len(shutdownHooks))
	copy(hooks, shutdownHooks)
	shutdownMu.Unlock()
	for _, hook := range hooks {
		hook()
	}
	ForEachOid(func(_ uint8, obj interface{}) {
		if h, ok := obj.(ShutdownHandler); ok {
			h.OnShutdown()
		}
	})

	DebugPrintln("[SHUTDOWN] " + reason)
	RecordTiming(EvtShutdown, 0, GetTime(), 0, 0)

	clock := GetTime()
	SendResponse("shutdown", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
		protocol.EncodeVLQString(output, reason)
	})
	return err
}

// TryShutdown is Shutdown for callers that have no error path
func TryShutdown(reason string) {
	_ = Shutdown(reason)
}

// IsShutdown returns true if the firmware is in shutdown state
func IsShutdown() bool {
	return atomic.LoadUint32(&globalState.isShutdown) != 0
}

// ShutdownReason returns the reason passed to the latched Shutdown call
func ShutdownReason() string {
	if !IsShutdown() {
		return ""
	}
	r, _ := shutdownReason.Load().(string)
	return r
}

// ClearShutdown leaves the shutdown state (clear_shutdown / host reset)
func ClearShutdown() {
	shutdownReason.Store("")
	atomic.StoreUint32(&globalState.isShutdown, 0)
}
