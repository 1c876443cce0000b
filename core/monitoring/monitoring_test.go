package monitoring

import (
	"errors"
	"testing"
	"time"
)

type recordMonitor struct {
	errs   []error
	panics []any
}

func (r *recordMonitor) CaptureException(err error, _ map[string]string) {
	r.errs = append(r.errs, err)
}
func (r *recordMonitor) CapturePanic(v any)  { r.panics = append(r.panics, v) }
func (r *recordMonitor) Flush(time.Duration) {}

func TestRecoverReportsAndRepanics(t *testing.T) {
	rec := &recordMonitor{}
	Init(rec)
	defer Init(NopMonitor{})

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Fatalf("expected re-panic, got %v", r)
			}
		}()
		defer Recover()
		panic("boom")
	}()
	if len(rec.panics) != 1 {
		t.Fatalf("expected panic captured, got %v", rec.panics)
	}

	CaptureException(nil, nil)
	CaptureException(errors.New("x"), map[string]string{"taxi": "1"})
	if len(rec.errs) != 1 {
		t.Fatalf("expected one error, got %d", len(rec.errs))
	}
}

func TestGoRunsInBackground(t *testing.T) {
	done := make(chan struct{})
	Go(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}
