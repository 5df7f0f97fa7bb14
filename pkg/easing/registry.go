package easing

import "log/slog"

// registry maps wire names to easing functions. Names follow the snake_case
// form used on the control WebSocket (e.g. "in_out_sine").
var registry = map[string]Func{
	"linear": Linear,

	"in_sine":     InSine,
	"out_sine":    OutSine,
	"in_out_sine": InOutSine,

	"in_quad":     InQuad,
	"out_quad":    OutQuad,
	"in_out_quad": InOutQuad,

	"in_cubic":     InCubic,
	"out_cubic":    OutCubic,
	"in_out_cubic": InOutCubic,

	"in_quart":     InQuart,
	"out_quart":    OutQuart,
	"in_out_quart": InOutQuart,

	"in_quint":     InQuint,
	"out_quint":    OutQuint,
	"in_out_quint": InOutQuint,

	"in_expo":     InExpo,
	"out_expo":    OutExpo,
	"in_out_expo": InOutExpo,

	"in_circ":     InCirc,
	"out_circ":    OutCirc,
	"in_out_circ": InOutCirc,

	"in_back":     InBack,
	"out_back":    OutBack,
	"in_out_back": InOutBack,

	"in_elastic":     InElastic,
	"out_elastic":    OutElastic,
	"in_out_elastic": InOutElastic,

	"in_bounce":     InBounce,
	"out_bounce":    OutBounce,
	"in_out_bounce": InOutBounce,
}

// Names returns all registered easing names. The order is unspecified.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// ForName resolves an easing function by wire name. Unknown names fall back
// to [Linear] with a warning; an empty name resolves to [Linear] silently.
func ForName(name string) Func {
	if name == "" {
		return Linear
	}
	if fn, ok := registry[name]; ok {
		return fn
	}
	slog.Warn("unknown easing name, falling back to linear", "name", name)
	return Linear
}
