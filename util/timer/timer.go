package timer

import "time"

// Measure runs f n times and returns the fastest run. Taking the minimum
// filters out runs disturbed by the scheduler or the garbage collector.
func Measure(n int, f func() error) (time.Duration, error) {
	if n < 1 {
		n = 1
	}

	best := time.Duration(-1)
	for i := 0; i < n; i++ {
		start := time.Now()
		if err := f(); err != nil {
			return 0, err
		}
		if d := time.Since(start); best < 0 || d < best {
			best = d
		}
	}
	return best, nil
}

// SetInterval calls f every duration until stop is called. stop must be
// called exactly once.
func SetInterval(duration time.Duration, f func()) (stop func()) {
	t := time.NewTicker(duration)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				f()
			case <-done:
				return
			}
		}
	}()
	return func() {
		t.Stop()
		close(done)
	}
}
