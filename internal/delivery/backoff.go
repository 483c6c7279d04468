package delivery

import "time"

// Backoff returns the wait before retrying after failed attempt n (1-based):
// base*2^(n-1), capped at max.
func Backoff(n int, base, max time.Duration) time.Duration {
	if n < 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < n; i++ {
		if max > 0 && d >= max/2 {
			return max
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
