// File: internal/uistate/store_test.go
package uistate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestValidateKey(t *testing.T) {
	valid := []string{"a", "leftPanel", "A1b2C3", "x234567890123456789012345678901234567890123456789"}
	for _, k := range valid {
		assert.NoError(t, ValidateKey(k), k)
	}

	invalid := []string{
		"",
		"left_panel",
		"left-panel",
		"left panel",
		"héllo",
		"x2345678901234567890123456789012345678901234567890x", // 51 chars
	}
	for _, k := range invalid {
		assert.ErrorIs(t, ValidateKey(k), ErrInvalidKey, k)
	}
}

func TestUIOptionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	v, err := s.UIOption("leftPanel")
	require.NoError(t, err)
	assert.Empty(t, v, "unset option reads as empty")

	require.NoError(t, s.SetUIOption("leftPanel", `["scope","site"]`))
	v, err = s.UIOption("leftPanel")
	require.NoError(t, err)
	assert.Equal(t, `["scope","site"]`, v)

	// Overwrite.
	require.NoError(t, s.SetUIOption("leftPanel", "[]"))
	v, err = s.UIOption("leftPanel")
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestUIOptionRejectsInvalidKeys(t *testing.T) {
	s := newTestStore(t)

	assert.ErrorIs(t, s.SetUIOption("left_panel", "x"), ErrInvalidKey)
	_, err := s.UIOption("left_panel")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestTutorialTasks(t *testing.T) {
	s := newTestStore(t)

	done, err := s.TutorialTaskDone("intro")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.CompleteTutorialTask("intro"))
	require.NoError(t, s.CompleteTutorialTask("intro"), "recompletion is a no-op")

	done, err = s.TutorialTaskDone("intro")
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, s.ResetTutorialTasks())
	done, err = s.TutorialTaskDone("intro")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestTutorialUpdates(t *testing.T) {
	s := newTestStore(t)

	updates, err := s.TutorialUpdates()
	require.NoError(t, err)
	assert.Empty(t, updates)

	require.NoError(t, s.AddTutorialUpdate("alerts-page"))
	require.NoError(t, s.AddTutorialUpdate("break-tool"))

	updates, err = s.TutorialUpdates()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alerts-page", "break-tool"}, updates)
}

func TestNewChangelogFlag(t *testing.T) {
	s := newTestStore(t)

	has, err := s.HasNewChangelog()
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.SetNewChangelog())
	has, err = s.HasNewChangelog()
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.ClearNewChangelog())
	has, err = s.HasNewChangelog()
	require.NoError(t, err)
	assert.False(t, has)
}
