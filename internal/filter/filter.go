// Package filter decides, per media buffer, whether a frame is forwarded or
// dropped before it reaches the consumers.
package filter

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/perceptual-video/pvstream/pkg/types"
)

// Policy names a drop strategy
type Policy string

const (
	// PolicyKeyframe forwards every keyframe and drops dependent frames
	PolicyKeyframe Policy = "keyframe"
	// PolicyPeriodic forwards one frame out of every KeepInterval
	PolicyPeriodic Policy = "periodic"
)

// DefaultPolicy is used when no policy is configured
const DefaultPolicy = PolicyKeyframe

// Config selects and parameterizes a policy
type Config struct {
	Policy       Policy `mapstructure:"policy"`
	KeepInterval uint64 `mapstructure:"keep_interval"`
}

// Filter is installed once per streaming session as its buffer probe.
// OnBuffer must be cheap: it runs on the pipeline's hot path.
type Filter interface {
	OnBuffer(meta types.BufferMeta) types.Decision
	Policy() Policy
	Stats() Stats
}

// Stats holds decision counters
type Stats struct {
	Evaluated uint64 `json:"evaluated"`
	Kept      uint64 `json:"kept"`
	Dropped   uint64 `json:"dropped"`
}

// KeepRatio returns kept/evaluated, or 0 before the first decision
func (s Stats) KeepRatio() float64 {
	if s.Evaluated == 0 {
		return 0
	}
	return float64(s.Kept) / float64(s.Evaluated)
}

// ParsePolicy parses a policy name
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keyframe", "keyframe-priority", "key":
		return PolicyKeyframe, nil
	case "periodic", "periodic-keep", "count":
		return PolicyPeriodic, nil
	default:
		return "", fmt.Errorf("unknown filter policy: %s", s)
	}
}

// New builds the filter selected by cfg
func New(cfg Config) (Filter, error) {
	policy, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	switch policy {
	case PolicyPeriodic:
		return NewPeriodic(cfg.KeepInterval), nil
	default:
		return NewKeyframePriority(), nil
	}
}

// counters is embedded by every policy
type counters struct {
	evaluated atomic.Uint64
	kept      atomic.Uint64
	dropped   atomic.Uint64
}

func (c *counters) record(d types.Decision) types.Decision {
	c.evaluated.Add(1)
	if d == types.Keep {
		c.kept.Add(1)
	} else {
		c.dropped.Add(1)
	}
	return d
}

// Stats returns a snapshot of the decision counters
func (c *counters) Stats() Stats {
	return Stats{
		Evaluated: c.evaluated.Load(),
		Kept:      c.kept.Load(),
		Dropped:   c.dropped.Load(),
	}
}
