package runtime

import (
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestSetLoggerConcurrent(t *testing.T) {
	defer SetLogger(nil)
	l := zap.NewNop()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetLogger(l)
		}()
		go func() {
			defer wg.Done()
			if Logger() == nil {
				t.Error("Logger() = nil")
			}
		}()
	}
	wg.Wait()
	if Logger() != l {
		t.Error("Logger() did not return the installed logger")
	}
	SetLogger(nil)
	if Logger() == l || Logger() == nil {
		t.Error("SetLogger(nil) did not restore the no-op logger")
	}
}
