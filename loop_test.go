package bedge

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestLoopRunsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop := NewLoop()
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error)
	go func() { done <- loop.Run(ctx) }()

	var (
		got []int
		wg  sync.WaitGroup
	)

	wg.Add(100)
	for i := range 100 {
		loop.Post(func() {
			got = append(got, i)
			wg.Done()
		})
	}

	wg.Wait()
	cancel()
	require.NoError(t, <-done)

	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopPostFromLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop := NewLoop()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	done := make(chan struct{})
	go func() { _ = loop.Run(ctx) }()

	loop.Post(func() {
		loop.Post(func() { close(done) })
	})

	<-done
}
