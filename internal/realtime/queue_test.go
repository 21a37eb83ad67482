package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsmesh/internal/model"
)

func TestJobQueueOrdersByPriorityThenSubmission(t *testing.T) {
	q := newJobQueue(10)

	for i, priority := range []int{1, 5, 6, 1, 6} {
		require.NoError(t, q.push(&model.ProcessingJob{ID: string(rune('a' + i)), Priority: priority}))
	}

	var got []string
	for {
		job, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, job.ID)
	}

	// Highest priority first; FIFO among equals ("c" before "e", "a" before "d").
	assert.Equal(t, []string{"c", "e", "b", "a", "d"}, got)
}

func TestJobQueueRejectsWhenFull(t *testing.T) {
	q := newJobQueue(2)
	require.NoError(t, q.push(&model.ProcessingJob{ID: "1"}))
	require.NoError(t, q.push(&model.ProcessingJob{ID: "2"}))

	err := q.push(&model.ProcessingJob{ID: "3"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.len())
}

func TestJobQueuePopEmpty(t *testing.T) {
	q := newJobQueue(1)
	job, ok := q.pop()
	assert.False(t, ok)
	assert.Nil(t, job)
}
