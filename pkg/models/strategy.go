package models

import (
	"errors"
	"fmt"
)

// ErrUnknownStrategy is returned for strategy names outside the supported set.
var ErrUnknownStrategy = errors.New("unknown cache strategy")

// Strategy selects how L1 is trimmed during maintenance. Both strategies
// evict LRU on insert; adaptive additionally trims rarely used entries when
// L1 runs hot.
type Strategy string

const (
	StrategyLRU      Strategy = "lru"
	StrategyAdaptive Strategy = "adaptive"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLRU, StrategyAdaptive:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}
