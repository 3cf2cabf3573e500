package runbook

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSteps() []CompiledStep {
	return []CompiledStep{
		{
			VerbFQN:       "cbu.create",
			Args:          map[string]string{"name": "Acme Corp"},
			ExecutionMode: ModeSync,
		},
		{
			VerbFQN:       "document.attach",
			Args:          map[string]string{"kind": "passport"},
			ExecutionMode: ModeDurable,
		},
	}
}

func sampleCore() ReplayEnvelopeCore {
	return ReplayEnvelopeCore{
		SessionCursor:    3,
		SnapshotManifest: map[string]string{"verb.cbu.create": "snap-1"},
		EntityBindings: []EntityBinding{
			{Name: "cbu-id", UUID: uuid.MustParse("00000000-0000-0000-0000-000000000001")},
		},
	}
}

func TestSeal_IsDeterministic(t *testing.T) {
	r1, err := Seal("sess-1", sampleSteps(), sampleCore(), "set-1", 1, nil)
	require.NoError(t, err)
	r2, err := Seal("sess-1", sampleSteps(), sampleCore(), "set-1", 1, nil)
	require.NoError(t, err)

	assert.Equal(t, r1.Id, r2.Id)
}

func TestSeal_SealedAtDoesNotAffectId(t *testing.T) {
	r1, err := Seal("sess-1", sampleSteps(), sampleCore(), "set-1", 1, nil)
	require.NoError(t, err)

	r2, err := Seal("sess-1", sampleSteps(), sampleCore(), "set-1", 1, nil)
	require.NoError(t, err)

	assert.NotEqual(t, r1.Envelope.SealedAt.UnixNano(), 0)
	assert.Equal(t, r1.Id, r2.Id)
}

func TestSeal_DifferentArgsProduceDifferentId(t *testing.T) {
	steps := sampleSteps()
	r1, err := Seal("sess-1", steps, sampleCore(), "set-1", 1, nil)
	require.NoError(t, err)

	steps2 := sampleSteps()
	steps2[0].Args["name"] = "Other Corp"
	r2, err := Seal("sess-1", steps2, sampleCore(), "set-1", 1, nil)
	require.NoError(t, err)

	assert.NotEqual(t, r1.Id, r2.Id)
}

func TestCompiledRunbook_IsExecutable(t *testing.T) {
	r, err := Seal("sess-1", sampleSteps(), sampleCore(), "set-1", 1, nil)
	require.NoError(t, err)

	assert.True(t, r.IsExecutable())

	r.Status.Kind = StatusExecuting
	assert.False(t, r.IsExecutable())

	r.Status.Kind = StatusParked
	assert.True(t, r.IsExecutable())
}
