package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/venari/internal/models"
)

func TestHistoryRecordsTerminalTasks(t *testing.T) {
	history, err := OpenHistory(t.TempDir())
	require.NoError(t, err)
	defer history.Close()

	s := newTestScheduler(2).WithHistory(history)
	s.Start()
	defer s.Stop()

	okID, err := s.Submit(&Task{Name: "ok", Fn: func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}})
	require.NoError(t, err)
	badID, err := s.Submit(&Task{Name: "bad", Fn: func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = s.Wait(ctx, okID)
	require.NoError(t, err)
	_, err = s.Wait(ctx, badID)
	require.Error(t, err)

	completed, err := history.ByStatus(models.TaskStatusCompleted, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, okID, completed[0].ID)
	assert.Equal(t, "ok", completed[0].Name)

	failed, err := history.ByStatus(models.TaskStatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, badID, failed[0].ID)
	assert.Equal(t, "boom", failed[0].Error)
}
