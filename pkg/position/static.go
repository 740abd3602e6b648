// Package position supplies the device position to the scheduler.
package position

import (
	"context"
	"fmt"

	"github.com/censys/radio-survey/pkg/geo"
)

// Static always reports the same position.
type Static struct {
	pos geo.Position
}

func NewStatic(pos geo.Position) *Static { return &Static{pos: pos} }

func (s *Static) LastPosition(context.Context) (geo.Position, error) { return s.pos, nil }

// Unavailable never has a position. The scheduler stays idle behind it.
type Unavailable struct {
	Reason error
}

func (u Unavailable) LastPosition(context.Context) (geo.Position, error) {
	if u.Reason == nil {
		return geo.Position{}, geo.ErrNoPosition
	}
	return geo.Position{}, fmt.Errorf("%w: %v", geo.ErrNoPosition, u.Reason)
}
