package delivery

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		n    int
		base time.Duration
		max  time.Duration
		want time.Duration
	}{
		{n: 0, base: time.Second, max: time.Minute, want: 0},
		{n: 1, base: time.Second, max: time.Minute, want: time.Second},
		{n: 2, base: time.Second, max: time.Minute, want: 2 * time.Second},
		{n: 4, base: time.Second, max: time.Minute, want: 8 * time.Second},
		{n: 7, base: time.Second, max: time.Minute, want: time.Minute},
		{n: 60, base: time.Second, max: 5 * time.Minute, want: 5 * time.Minute},
		{n: 3, base: 250 * time.Millisecond, max: 0, want: time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.n, tt.base, tt.max); got != tt.want {
			t.Errorf("Backoff(%d, %v, %v) = %v, want %v", tt.n, tt.base, tt.max, got, tt.want)
		}
	}
}
