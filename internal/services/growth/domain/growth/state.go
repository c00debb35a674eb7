package growth

import (
	"strings"
	"time"
)

// Seed values for a newly bootstrapped account.
const (
	SeedMass      = 1.0
	SeedStructure = 0.5
	SeedVitality  = 0.8
)

// State is the authoritative per-user growth state.
type State struct {
	UserID        string
	Mass          float64
	Structure     float64
	Vitality      float64
	LastUpdatedAt time.Time
	// Version increments with every accepted mutation.
	Version uint64
}

// SeedState returns the initial state for a new user.
func SeedState(userID string, now time.Time) State {
	return State{
		UserID:        strings.TrimSpace(userID),
		Mass:          SeedMass,
		Structure:     SeedStructure,
		Vitality:      SeedVitality,
		LastUpdatedAt: now.UTC(),
		Version:       1,
	}
}

// NextForTask computes the state after a task completion of the given depth.
// Mass and structure deltas are clamped individually; vitality is clamped as a
// total.
func NextForTask(limits Limits, current State, depth Depth, occurredAt time.Time) State {
	pair, ok := depthDeltas[depth]
	if !ok {
		pair = depthDeltas[DepthSmall]
	}
	next := current
	next.Mass = current.Mass + limits.MassDelta.Clamp(pair.mass)
	next.Structure = current.Structure + limits.StructureDelta.Clamp(pair.structure)
	next.Vitality = limits.Vitality.Clamp(current.Vitality + TaskVitalityDelta)
	next.LastUpdatedAt = occurredAt.UTC()
	next.Version = current.Version + 1
	return next
}

// NextForReflection computes the state after a reflection. Only vitality
// moves.
func NextForReflection(limits Limits, current State, occurredAt time.Time) State {
	next := current
	next.Vitality = limits.Vitality.Clamp(current.Vitality + ReflectionVitalityDelta)
	next.LastUpdatedAt = occurredAt.UTC()
	next.Version = current.Version + 1
	return next
}
