package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consoleprov/consoleprov/internal/config"
	"github.com/consoleprov/consoleprov/internal/model"
)

func newStore(t *testing.T) *RunStore {
	t.Helper()
	d, err := Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := d.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewRunStore(d)
}

func TestRunStoreLifecycle(t *testing.T) {
	s := newStore(t)
	run := &model.ProvisionRun{
		ID: "run-1", BatchID: "b1", NodeID: "n1", Kind: model.RunKindInstall,
		Platform: "vyos", Host: "127.0.0.1", Port: 5000, Protocol: "telnet",
		Status: model.RunStatusRunning, Step: -1, StartTime: time.Now(),
	}
	require.NoError(t, s.Create(run))

	run.Status = model.RunStatusSuccess
	run.Outcome = "succeeded"
	require.NoError(t, s.Save(run))

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, got.Status)
	assert.Equal(t, -1, got.Step)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStoreTranscriptReplaced(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create(&model.ProvisionRun{ID: "r", Kind: "install", Platform: "vyos", Host: "h", Port: 1}))

	first := []model.TranscriptEntry{{Direction: "received", Data: "login:"}, {Direction: "sent", Data: "vyos\n"}}
	require.NoError(t, s.SaveTranscript("r", first))
	require.NoError(t, s.SaveTranscript("r", []model.TranscriptEntry{{Direction: "received", Data: "again"}}))

	entries, err := s.Transcript("r")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "again", entries[0].Data)
	assert.Equal(t, 0, entries[0].Seq)
}

func TestRunStoreList(t *testing.T) {
	s := newStore(t)
	for i, st := range []string{model.RunStatusSuccess, model.RunStatusFailed, model.RunStatusSuccess} {
		require.NoError(t, s.Create(&model.ProvisionRun{
			ID: string(rune('a' + i)), BatchID: "b", Kind: "install", Platform: "vyos",
			Host: "h", Port: 1, Status: st,
		}))
	}

	runs, total, err := s.List(RunFilter{BatchID: "b", Status: model.RunStatusSuccess})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, runs, 2)

	runs, total, err = s.List(RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, runs, 1)
}
