package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck flags a goroutine leak: it fails once the live
// goroutine count crosses limit.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines running, limit is %d", n, limit)
		}
		return nil
	}
}

// HeapAllocCheck fails once the live heap grows past limit bytes. Useful as
// a liveness probe on memory-bound deployments.
func HeapAllocCheck(limit uint64) CheckFunc {
	return func(context.Context) error {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		if ms.HeapAlloc > limit {
			return errors.Errorf("heap at %d bytes, limit is %d", ms.HeapAlloc, limit)
		}
		return nil
	}
}
