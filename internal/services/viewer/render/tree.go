package render

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/platform/logging"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
)

// TreeParams are the visual parameters derived from growth state.
type TreeParams struct {
	Height      float64
	BranchCount int
	LeafDensity float64
	Pulses      int
}

// TreeRenderer tracks the tree's visual parameters.
type TreeRenderer struct {
	logger *zap.Logger

	mu     sync.Mutex
	params TreeParams
	ready  bool
}

// NewTreeRenderer creates a renderer.
func NewTreeRenderer(logger *zap.Logger) *TreeRenderer {
	logger = logging.OrNop(logger)
	return &TreeRenderer{logger: logger}
}

// SetAuthoritativeState replaces the visual parameters with those derived from
// state.
func (r *TreeRenderer) SetAuthoritativeState(_ context.Context, state growth.State) {
	r.mu.Lock()
	r.params = TreeParams{
		Height:      round2(state.Mass * 2),
		BranchCount: 3 + int(math.Floor(state.Structure*10)),
		LeafDensity: round2(state.Vitality),
	}
	r.ready = true
	params := r.params
	r.mu.Unlock()

	r.logger.Info("tree state applied",
		zap.String("user_id", state.UserID),
		zap.Uint64("version", state.Version),
		zap.Float64("height", params.Height),
		zap.Int("branches", params.BranchCount),
		zap.Float64("leaf_density", params.LeafDensity),
	)
}

// OnEvent pulses the tree for task completions and reflections.
func (r *TreeRenderer) OnEvent(_ context.Context, evt progression.Event) {
	if !progression.IsTaskCompleted(evt) && !progression.IsReflection(evt) {
		return
	}
	r.mu.Lock()
	r.params.Pulses++
	pulses := r.params.Pulses
	r.mu.Unlock()

	r.logger.Info("tree pulse",
		zap.String("event_id", evt.EventID),
		zap.String("subtype", string(evt.Subtype)),
		zap.Int("pulses", pulses),
	)
}

// Params returns the current parameters and whether a state has been applied.
func (r *TreeRenderer) Params() (TreeParams, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params, r.ready
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
