package id

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	id := Generate()

	assert.True(t, strings.HasPrefix(id, "job-"), "expected ID to start with 'job-', got %s", id)
	assert.True(t, Valid(id))
	assert.NotEqual(t, id, Generate(), "expected different IDs for consecutive calls")
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate()
		assert.False(t, seen[id], "duplicate ID generated: %s", id)
		seen[id] = true
	}
}

func TestGenerate_Sortable(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = Generate()
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("job-"))
	assert.False(t, Valid("job-not-a-uuid"))
	assert.False(t, Valid("01936b2e-6c1f-7c3a-9d55-3f6f0c8e2a41"))
	assert.True(t, Valid("job-01936b2e-6c1f-7c3a-9d55-3f6f0c8e2a41"))
}
