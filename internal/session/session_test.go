package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentIDIsStable(t *testing.T) {
	s := New()
	id := s.CurrentID()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
	assert.Equal(t, id, s.CurrentID())
}

func TestRegenerateChangesID(t *testing.T) {
	n := 0
	s := New(WithGenerator(func() string {
		n++
		return fmt.Sprintf("sess-%d", n)
	}))

	assert.Equal(t, "sess-1", s.CurrentID())
	assert.Equal(t, "sess-2", s.Regenerate())
	assert.Equal(t, "sess-2", s.CurrentID())
}

func TestLazyGeneration(t *testing.T) {
	calls := 0
	s := New(WithGenerator(func() string {
		calls++
		return "x"
	}))
	assert.Zero(t, calls)
	s.CurrentID()
	s.CurrentID()
	assert.Equal(t, 1, calls)
}

func TestConcurrentFirstAccess(t *testing.T) {
	s := New()
	ids := make([]string, 16)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = s.CurrentID()
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}
