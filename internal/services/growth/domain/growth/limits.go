package growth

import (
	"strings"
)

// Range is an inclusive numeric interval.
type Range struct {
	Min float64
	Max float64
}

// Clamp bounds value to the range.
func (r Range) Clamp(value float64) float64 {
	if value < r.Min {
		return r.Min
	}
	if value > r.Max {
		return r.Max
	}
	return value
}

// Contains reports whether value lies inside the range.
func (r Range) Contains(value float64) bool {
	return value >= r.Min && value <= r.Max
}

// Limits bounds every growth mutation.
type Limits struct {
	// Vitality bounds the resulting vitality total.
	Vitality Range
	// MassDelta bounds each individual mass increment.
	MassDelta Range
	// StructureDelta bounds each individual structure increment.
	StructureDelta Range
}

// DefaultLimits are the production growth bounds.
var DefaultLimits = Limits{
	Vitality:       Range{Min: 0.6, Max: 1.0},
	MassDelta:      Range{Min: 0.01, Max: 0.08},
	StructureDelta: Range{Min: 0.01, Max: 0.1},
}

const (
	// TaskVitalityDelta is the vitality gained per completed task.
	TaskVitalityDelta = 0.01
	// ReflectionVitalityDelta is the vitality gained per reflection.
	ReflectionVitalityDelta = 0.03
)

// Depth is the estimated effort of a task.
type Depth string

const (
	DepthSmall  Depth = "small"
	DepthMedium Depth = "medium"
	DepthDeep   Depth = "deep"
)

// ParseDepth normalizes a stored depth value. Unknown or empty values fall
// back to DepthSmall.
func ParseDepth(raw string) Depth {
	switch Depth(strings.ToLower(strings.TrimSpace(raw))) {
	case DepthMedium:
		return DepthMedium
	case DepthDeep:
		return DepthDeep
	default:
		return DepthSmall
	}
}

// Valid reports whether d is one of the known depths.
func (d Depth) Valid() bool {
	switch d {
	case DepthSmall, DepthMedium, DepthDeep:
		return true
	default:
		return false
	}
}

type deltaPair struct {
	mass      float64
	structure float64
}

var depthDeltas = map[Depth]deltaPair{
	DepthSmall:  {mass: 0.02, structure: 0.02},
	DepthMedium: {mass: 0.02, structure: 0.04},
	DepthDeep:   {mass: 0.05, structure: 0.08},
}
