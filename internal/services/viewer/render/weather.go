package render

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/platform/logging"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
)

// Sky is the weather condition shown behind the tree.
type Sky string

const (
	SkyOvercast Sky = "overcast"
	SkyClear    Sky = "clear"
	SkySunbreak Sky = "sunbreak"
)

// Wind describes how much the branches move.
type Wind string

const (
	WindStill  Wind = "still"
	WindCalm   Wind = "calm"
	WindBreezy Wind = "breezy"
)

// clearSkyVitality is the vitality at and above which the sky clears.
const clearSkyVitality = 0.75

// Weather is the current weather condition.
type Weather struct {
	Sky  Sky
	Wind Wind
}

// WeatherSystem derives weather from vitality and reacts to events.
type WeatherSystem struct {
	logger *zap.Logger

	mu      sync.Mutex
	weather Weather
}

// NewWeatherSystem creates a weather system starting overcast and still.
func NewWeatherSystem(logger *zap.Logger) *WeatherSystem {
	logger = logging.OrNop(logger)
	return &WeatherSystem{logger: logger, weather: Weather{Sky: SkyOvercast, Wind: WindStill}}
}

// SetAuthoritativeState applies the state's vitality.
func (w *WeatherSystem) SetAuthoritativeState(ctx context.Context, state growth.State) {
	w.SetAuthoritativeVitality(ctx, state.Vitality)
}

// SetAuthoritativeVitality sets the sky from vitality.
func (w *WeatherSystem) SetAuthoritativeVitality(_ context.Context, vitality float64) {
	sky := SkyOvercast
	if vitality >= clearSkyVitality {
		sky = SkyClear
	}
	w.mu.Lock()
	w.weather.Sky = sky
	w.mu.Unlock()
	w.logger.Info("weather vitality applied", zap.Float64("vitality", vitality), zap.String("sky", string(sky)))
}

// OnEvent reacts to reflections with a sunbreak and to task completions with
// a calm wind.
func (w *WeatherSystem) OnEvent(_ context.Context, evt progression.Event) {
	w.mu.Lock()
	switch {
	case progression.IsReflection(evt):
		w.weather.Sky = SkySunbreak
	case progression.IsTaskCompleted(evt):
		w.weather.Wind = WindCalm
	case progression.IsReturnAfterAbsence(evt):
		w.weather.Wind = WindBreezy
	default:
		w.mu.Unlock()
		return
	}
	weather := w.weather
	w.mu.Unlock()

	w.logger.Info("weather reacted",
		zap.String("event_id", evt.EventID),
		zap.String("sky", string(weather.Sky)),
		zap.String("wind", string(weather.Wind)),
	)
}

// Current returns the current weather.
func (w *WeatherSystem) Current() Weather {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.weather
}
