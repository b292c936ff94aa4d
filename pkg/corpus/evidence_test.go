package corpus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

func TestLoadEvidence(t *testing.T) {
	dir := t.TempDir()
	items := []benchtypes.EvidenceItem{
		{
			Question: "what is my cat called?",
			Answer:   "Miso",
			Category: "factual",
			PersonID: "alice",
			Conversations: []benchtypes.Conversation{
				{Messages: []benchtypes.Message{{Speaker: benchtypes.SpeakerUser, Text: "my cat is Miso"}}},
			},
		},
	}
	data, err := json.Marshal(items)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "factual.json"), data, 0o644))

	loaded, err := LoadEvidence(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "Miso", loaded[0].Answer)
	// Conversations get ids assigned on load.
	assert.NotEmpty(t, loaded[0].Conversations[0].ID)
}

func TestLoadEvidenceMissingDirIsFatal(t *testing.T) {
	_, err := LoadEvidence(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.True(t, benchtypes.IsFatal(err))
	assert.ErrorIs(t, err, benchtypes.ErrNoEvidence)
}

func TestLoadEvidenceEmptyDirIsFatal(t *testing.T) {
	_, err := LoadEvidence(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, benchtypes.IsFatal(err))
}
