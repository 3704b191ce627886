package contracts

import "time"

const (
	RetryInitialDelay = 5 * time.Second
	RetryMaxDelay     = 5 * time.Minute

	// DeliveryAttemptCeiling parks a message as undelivered after this
	// many attempts in one stage; manual retry rearms it. Handshakes
	// have no ceiling and retry for as long as the request is pending.
	DeliveryAttemptCeiling = 20

	// RetryLoopTick is how often the scheduler scans the stores for due
	// rows. Scans are cheap; the per-row backoff lives in NextRetryAt.
	RetryLoopTick = 1 * time.Second

	// StartupRecoveryLookahead widens the due window on the first pass
	// after boot: every unfinished row scheduled within it is rearmed
	// immediately instead of waiting out a NextRetryAt planted before
	// the restart.
	StartupRecoveryLookahead = 24 * time.Hour
)

// RetryBackoff returns the delay to wait after attempt number
// retryCount: 5s, 10s, 20s, ... capped at 5min.
func RetryBackoff(retryCount int) time.Duration {
	delay := RetryInitialDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= RetryMaxDelay {
			return RetryMaxDelay
		}
	}
	return delay
}

// NextRetryAt plants the wakeup for the attempt after the one made at
// attemptAt with the given prior attempt count.
func NextRetryAt(attemptAt time.Time, retryCount int) time.Time {
	return attemptAt.UTC().Add(RetryBackoff(retryCount))
}
