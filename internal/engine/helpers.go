package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	buyRetryBackoff    = 200 * time.Millisecond
	buyRetryBackoffMax = 2 * time.Second
)

// retryBackoff is the pause before retry n (1-based): base doubled each
// time, capped at max.
func retryBackoff(n int, base, max time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	wait := base
	for i := 1; i < n; i++ {
		wait *= 2
		if wait >= max {
			return max
		}
	}
	if wait > max {
		return max
	}
	return wait
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func newOperationID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	if len(raw) > 12 {
		return raw[:12]
	}
	return raw
}
