package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitBindings_AdvancesCursorAndShadows(t *testing.T) {
	s := New("sess-1", "snap-set-1")
	require.Equal(t, uint64(0), s.Cursor())

	cbu := uuid.New()
	cursor := s.CommitBindings([]Binding{{Name: "cbu", UUID: cbu, EntityType: "cbu"}})
	assert.Equal(t, uint64(1), cursor)

	b, ok := s.Lookup("cbu")
	require.True(t, ok)
	assert.Equal(t, cbu, b.UUID)

	newCBU := uuid.New()
	cursor2 := s.CommitBindings([]Binding{{Name: "cbu", UUID: newCBU, EntityType: "cbu"}})
	assert.Equal(t, uint64(2), cursor2)

	b2, ok := s.Lookup("cbu")
	require.True(t, ok)
	assert.Equal(t, newCBU, b2.UUID, "a new runbook may shadow a prior binding")
}

func TestBindings_PreservesInsertionOrder(t *testing.T) {
	s := New("sess-1", "snap-set-1")
	s.CommitBindings([]Binding{
		{Name: "co", UUID: uuid.New()},
		{Name: "cbu", UUID: uuid.New()},
	})
	bindings := s.Bindings()
	require.Len(t, bindings, 2)
	assert.Equal(t, "co", bindings[0].Name)
	assert.Equal(t, "cbu", bindings[1].Name)
}

func TestManager_GetOrCreateIsIdempotent(t *testing.T) {
	m := NewManager()
	s1 := m.GetOrCreate("a", "snap-1")
	s2 := m.GetOrCreate("a", "snap-2")
	assert.Same(t, s1, s2, "GetOrCreate must return the same session on repeat calls")
	assert.Equal(t, 1, m.Count())
}

func TestManager_Delete(t *testing.T) {
	m := NewManager()
	m.GetOrCreate("a", "snap-1")
	m.Delete("a")
	_, ok := m.Get("a")
	assert.False(t, ok)
}
