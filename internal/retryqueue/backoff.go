package retryqueue

import (
	"time"
)

// maxBackoffShift bounds the doubling so the delay cannot overflow with
// a misconfigured max_retries.
const maxBackoffShift = 10

// BackoffDelay returns the delay before the next attempt after the given
// retry count: base * 2^retryCount. With the default 5-minute base this
// gives 10, 20 and 40 minutes for retry counts 1, 2 and 3.
func BackoffDelay(base time.Duration, retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > maxBackoffShift {
		retryCount = maxBackoffShift
	}
	return base * (1 << retryCount)
}
