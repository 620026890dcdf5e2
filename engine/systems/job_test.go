package systems

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestJobSystemRunsInOrderWithOneWorker(t *testing.T) {
	js, err := NewJobSystem(1, 8)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var failures int
	for i := 0; i < 16; i++ {
		i := i
		js.Submit(JobTask{
			Name:        "ordered",
			InputParams: i,
			OnStart: func(params interface{}) error {
				if params.(int) == 3 {
					return errors.New("boom")
				}
				mu.Lock()
				order = append(order, params.(int))
				mu.Unlock()
				return nil
			},
			OnFailure: func(err error) {
				mu.Lock()
				failures++
				mu.Unlock()
			},
		})
	}
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())

	assert.Equal(t, 1, failures)
	require.Len(t, order, 15)
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1], order[i])
	}
}
