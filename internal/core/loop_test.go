package core

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	logger := zerolog.Nop()
	l := NewLoop("test", &logger)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l, cancel
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var seen []int
	for i := range 5 {
		require.True(t, l.Post(func() { seen = append(seen, i) }))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var snapshot []int
	require.NoError(t, l.Do(ctx, func() { snapshot = append(snapshot, seen...) }))

	assert.Equal(t, []int{0, 1, 2, 3, 4}, snapshot)
}

func TestLoopSurvivesPanic(t *testing.T) {
	l, _ := startLoop(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Do(ctx, func() { panic("boom") }))

	ran := false
	require.NoError(t, l.Do(ctx, func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopRejectsWorkAfterStop(t *testing.T) {
	l, cancel := startLoop(t)
	cancel()
	<-l.Stopped()

	assert.False(t, l.Post(func() {}))
	err := l.Do(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrLoopStopped)
}
