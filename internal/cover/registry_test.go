package cover

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubCover struct {
	Cover
	name string
}

func (s *stubCover) Name() string { return s.name }

func (s *stubCover) Open(ctx context.Context) error  { return nil }
func (s *stubCover) Close(ctx context.Context) error { return nil }

func (s *stubCover) Snapshot() Snapshot {
	return Snapshot{Direction: Idle, LastDirection: Closing, TravelTime: time.Minute}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	t.Run("covers are registered once", func(t *testing.T) {
		assert.NoError(t, r.Add(&stubCover{name: "kitchen"}))
		assert.NoError(t, r.Add(&stubCover{name: "bedroom"}))
		assert.Error(t, r.Add(&stubCover{name: "kitchen"}))
	})

	t.Run("covers are looked up by name", func(t *testing.T) {
		c, ok := r.Get("kitchen")
		assert.True(t, ok)
		assert.Equal(t, "kitchen", c.Name())

		_, ok = r.Get("garage")
		assert.False(t, ok)
	})

	t.Run("all covers come back ordered by name", func(t *testing.T) {
		all := r.All()
		assert.Len(t, all, 2)
		assert.Equal(t, "bedroom", all[0].Name())
		assert.Equal(t, "kitchen", all[1].Name())
	})
}
