package election

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestState_InitiallyFollower(t *testing.T) {
	s := NewState("instance-1")
	assert.False(t, s.IsLeader())
	assert.True(t, s.ElectedAt().IsZero())
	assert.True(t, s.LostAt().IsZero())
	assert.Equal(t, "instance-1", s.InstanceID())
}

func TestState_MarkElectedThenLost(t *testing.T) {
	s := NewState("instance-1")
	electedAt := time.Now()
	s.markElected(electedAt)
	assert.True(t, s.IsLeader())
	assert.Equal(t, electedAt, s.ElectedAt())

	lostAt := electedAt.Add(time.Minute)
	s.markLost(lostAt)
	assert.False(t, s.IsLeader())
	assert.Equal(t, lostAt, s.LostAt())
}
