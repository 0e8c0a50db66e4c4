package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashStringStable(t *testing.T) {
	assert.Equal(t, HashString("node-1", 0), HashString("node-1", 0))
	assert.NotEqual(t, HashString("node-1", 0), HashString("node-2", 0))
	assert.NotEqual(t, HashString("node-1", 0), HashString("node-1", 1))
}

func TestShardIndexInRange(t *testing.T) {
	seed := GenerateSeed()
	for _, key := range []string{"", "a", "user:1", "你好", "a-much-longer-key-with-more-bytes"} {
		idx := ShardIndex(HashString(key, seed), 7)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 7)
	}
}
