// Package retry implements the deterministic connection reconnect
// backoff schedule and the request-level retry restriction (only
// MOVED/ASK redirections are retried automatically).
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Strategy is the {retries, factor, exponent_base} reconnect-strategy
// configuration.
type Strategy struct {
	Retries      uint8
	Factor       time.Duration
	ExponentBase float64
}

// DefaultStrategy matches what most deployments leave the client at:
// a handful of quick reconnect attempts before giving up.
func DefaultStrategy() Strategy {
	return Strategy{Retries: 5, Factor: 100 * time.Millisecond, ExponentBase: 2}
}

// Schedule produces successive reconnect delays for one connection's
// lifetime of failures, resetting on a successful Ready transition.
// It wraps cenkalti/backoff's ExponentialBackOff, but with
// randomization disabled: the delay sequence base*factor^1,
// base*factor^2, ... is part of the configuration contract and must
// be exactly reproducible.
type Schedule struct {
	strategy Strategy
	bo       *backoff.ExponentialBackOff
	attempt  uint8
}

// NewSchedule builds a Schedule from a reconnect Strategy.
func NewSchedule(s Strategy) *Schedule {
	bo := backoff.NewExponentialBackOff()
	bo.RandomizationFactor = 0
	bo.Multiplier = s.ExponentBase
	bo.InitialInterval = time.Duration(float64(s.Factor) * s.ExponentBase)
	bo.MaxInterval = time.Duration(float64(s.Factor) * pow(s.ExponentBase, float64(s.Retries)+1))
	bo.MaxElapsedTime = 0 // this schedule is bounded by Retries, not elapsed time
	bo.Reset()
	return &Schedule{strategy: s, bo: bo}
}

// Next returns the delay before the next reconnect attempt and whether
// the caller has exhausted its retry budget. Exhaustion is reported
// strictly by attempt count — the underlying ExponentialBackOff never
// reports backoff.Stop here since MaxElapsedTime is disabled.
func (s *Schedule) Next() (delay time.Duration, exhausted bool) {
	if s.attempt >= s.strategy.Retries {
		return 0, true
	}
	s.attempt++
	return s.bo.NextBackOff(), false
}

// Reset clears the attempt counter, called on a successful Ready
// transition.
func (s *Schedule) Reset() {
	s.attempt = 0
	s.bo.Reset()
}

// Attempt returns the number of reconnect attempts made since the
// last Reset.
func (s *Schedule) Attempt() uint8 { return s.attempt }

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
