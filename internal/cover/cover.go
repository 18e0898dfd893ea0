package cover

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
)

const (
	OpenState    = "open"
	ClosedState  = "closed"
	OpeningState = "opening"
	ClosingState = "closing"
)

const (
	FullClosedPosition float64 = 0
	FullOpenPosition   float64 = 100
)

// Direction is the movement a cover is performing, or for last direction
// tracking, the movement it performed most recently.
type Direction string

const (
	Idle    Direction = "idle"
	Opening Direction = "opening"
	Closing Direction = "closing"
)

func (d Direction) Opposite() Direction {
	switch d {
	case Opening:
		return Closing
	case Closing:
		return Opening
	}
	return d
}

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Idle, Opening, Closing:
		return Direction(s), nil
	}
	return "", errors.Errorf("unknown direction %q", s)
}

// Snapshot is a consistent view of a cover's tracked state.
type Snapshot struct {
	Position      float64
	Direction     Direction
	LastDirection Direction
	TravelTime    time.Duration
	PulseGap      time.Duration
}

// State renders the conventional cover state string for the snapshot.
func (s Snapshot) State() string {
	switch s.Direction {
	case Opening:
		return OpeningState
	case Closing:
		return ClosingState
	}
	if math.Round(s.Position) <= FullClosedPosition {
		return ClosedState
	}
	return OpenState
}

type UpdateHandler func(s Snapshot)

type Cover interface {
	Name() string

	Position() int
	State() string
	Snapshot() Snapshot

	OnUpdate(h UpdateHandler)

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Stop(ctx context.Context) error
	SetPosition(ctx context.Context, position int) error

	SetTravelTime(d time.Duration)
	SetPulseGap(d time.Duration)
	OverridePosition(position float64)
	OverrideDirection(ctx context.Context, d Direction) error
	OverrideLastDirection(d Direction) error
}

// Restorable is implemented by covers that can re-apply previously
// persisted attributes on startup.
type Restorable interface {
	Cover

	Restore(s Snapshot)
}
