package strata

import "time"

// RetryBuilder composes a RetryPolicy for FlowBuilder.WithRetry:
//
//	strata.Retry(5).Backoff(100*time.Millisecond).Multiplier(2).Cap(2*time.Second).Policy()
//
// Builders are values; every method returns a modified copy.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry allows up to attempts attempts per split, the first one included.
// Values below 1 mean a single attempt. Retries are immediate until Backoff
// is set.
func Retry(attempts int) RetryBuilder {
	return RetryBuilder{policy: RetryPolicy{MaxAttempts: max(attempts, 1)}}
}

// Backoff waits d before the first retry. Later retries grow by the
// multiplier, 2 unless Multiplier says otherwise.
func (r RetryBuilder) Backoff(d time.Duration) RetryBuilder {
	r.policy.InitialBackoff = d
	return r
}

// Multiplier scales the delay after every retry. A factor of 1 keeps the
// delay constant; factors <= 0 fall back to 2.
func (r RetryBuilder) Multiplier(m float64) RetryBuilder {
	r.policy.BackoffMultiplier = m
	return r
}

// Cap bounds any single delay. Zero removes the bound.
func (r RetryBuilder) Cap(d time.Duration) RetryBuilder {
	r.policy.MaxBackoff = d
	return r
}

// Constant waits d before every retry.
func (r RetryBuilder) Constant(d time.Duration) RetryBuilder {
	return r.Backoff(d).Multiplier(1).Cap(0)
}

// Immediate clears any backoff, so retries follow failures without delay.
func (r RetryBuilder) Immediate() RetryBuilder {
	return r.Backoff(0).Multiplier(0).Cap(0)
}

// Policy returns the composed RetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}
