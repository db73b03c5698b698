package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/tanda-engine/internal/models"
)

func TestLoadBundledProfiles(t *testing.T) {
	profilesDir := filepath.Join("..", "..", "profiles")
	if _, err := os.Stat(profilesDir); os.IsNotExist(err) {
		t.Skip("profiles directory not found, skipping")
	}

	loader := NewLoader()
	require.NoError(t, loader.LoadFromDir(profilesDir))

	seriado := loader.Get("seriado")
	require.NotNil(t, seriado)
	assert.Equal(t, models.FormatSeriado, seriado.Settings.Format)
	assert.Equal(t, 2, seriado.Settings.BlocksPerTanda)
	assert.Len(t, seriado.Settings.JudgeIDs, 6)

	nacional := loader.Get("nacional-puntaje")
	require.NotNil(t, nacional)
	assert.Equal(t, 6, nacional.Settings.FinalParticipantsCount)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	t.Run("name from file and defaults", func(t *testing.T) {
		loader := NewLoader()
		require.NoError(t, loader.LoadFromFile(write("infantil.yml", "settings:\n  judge_ids: [a, b]\n")))

		p := loader.Get("infantil")
		require.NotNil(t, p)
		assert.Equal(t, models.FormatPuntaje, p.Settings.Format)
		assert.Equal(t, 4, p.Settings.ParticipantsPerBlock)
		assert.Equal(t, 1, p.Settings.BlocksPerTanda)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		assert.Error(t, NewLoader().LoadFromFile(write("broken.yaml", "settings: [")))
	})

	t.Run("too many judges per block", func(t *testing.T) {
		err := NewLoader().LoadFromFile(write("bad.yaml", "settings:\n  judges_per_block: 3\n  judge_ids: [a]\n"))
		assert.ErrorContains(t, err, "judges_per_block")
	})

	t.Run("bad files are skipped by LoadFromDir", func(t *testing.T) {
		loader := NewLoader()
		require.NoError(t, loader.LoadFromDir(dir))
		names := []string{}
		for _, p := range loader.List() {
			names = append(names, p.Name)
		}
		assert.Equal(t, []string{"infantil"}, names)
	})
}

func TestValidate(t *testing.T) {
	ok := models.CompetitionSettings{Format: models.FormatSeriado, JudgesPerBlock: 2, JudgeIDs: []string{"a", "b"}}
	assert.NoError(t, Validate(ok))

	bad := []models.CompetitionSettings{
		{Format: "Liga"},
		{Format: models.FormatPuntaje, ParticipantsPerBlock: -1},
		{Format: models.FormatPuntaje, SemifinalThreshold: -2},
		{Format: models.FormatPuntaje, JudgeIDs: []string{"a", "a"}},
		{Format: models.FormatPuntaje, JudgeIDs: []string{""}},
	}
	for _, s := range bad {
		assert.Error(t, Validate(s), "%+v", s)
	}
}

func TestLoadFromMissingDir(t *testing.T) {
	assert.Error(t, NewLoader().LoadFromDir(filepath.Join(t.TempDir(), "nope")))
}
