package eventsub

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplayCacheDetectsDuplicates(t *testing.T) {
	c := newReplayCache(4)

	assert.True(t, c.Add("a"))
	assert.False(t, c.Add("a"))
	assert.True(t, c.Add("b"))
	assert.False(t, c.Add("b"))
	assert.Equal(t, 2, c.Len())
}

func TestReplayCacheEvictsOldestAtBound(t *testing.T) {
	c := newReplayCache(3)

	for i := 0; i < 5; i++ {
		assert.True(t, c.Add(fmt.Sprintf("id-%d", i)))
	}
	assert.Equal(t, 3, c.Len())

	// The oldest ids fell out of the window and read as new again.
	assert.True(t, c.Add("id-0"))
	assert.True(t, c.Add("id-1"))
	// The newest survivors are still deduplicated.
	assert.False(t, c.Add("id-4"))
}
