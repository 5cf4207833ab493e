package connection

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	StrategyConstant    = "constant"
	StrategyExponential = "exponential"

	DefaultReconnectDelay = 5 * time.Second
)

// NewPolicy returns the reconnect delay policy for strategy. Neither policy
// ever gives up.
//
// The constant strategy waits delay before every attempt. The exponential
// strategy starts at one second and grows by half each attempt up to delay,
// without jitter, so delay is a hard ceiling.
func NewPolicy(strategy string, delay time.Duration) (backoff.BackOff, error) {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	switch strategy {
	case "", StrategyConstant:
		return backoff.NewConstantBackOff(delay), nil
	case StrategyExponential:
		initial := time.Second
		if initial > delay {
			initial = delay
		}
		return backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(initial),
			backoff.WithMaxInterval(delay),
			backoff.WithMaxElapsedTime(0),
			backoff.WithRandomizationFactor(0),
		), nil
	default:
		return nil, fmt.Errorf("unknown reconnect strategy %q", strategy)
	}
}
