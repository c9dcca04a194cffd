package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock returns the current time. Services take it so tests can pin time.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func New() Clock {
	return SystemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(New),
)
