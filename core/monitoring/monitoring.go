package monitoring

import "time"

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	// CapturePanic reports a recovered panic value.
	CapturePanic(v any)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any)                          {}
func (NopMonitor) Flush(time.Duration)                       {}

var current Monitor = NopMonitor{}

// Init sets the global monitor implementation.
func Init(m Monitor) {
	if m != nil {
		current = m
	}
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err != nil && current != nil {
		current.CaptureException(err, tags)
	}
}

// Recover reports a panic to the monitor and re-panics. It must be deferred
// directly.
func Recover() {
	if r := recover(); r != nil {
		if current != nil {
			current.CapturePanic(r)
			current.Flush(2 * time.Second)
		}
		panic(r)
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	if current != nil {
		current.Flush(d)
	}
}

// Go runs fn in a new goroutine that reports panics to the monitor.
func Go(fn func()) {
	go func() {
		defer Recover()
		fn()
	}()
}
