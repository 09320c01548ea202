package worker

import (
	"context"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestPoolDispatchesInFIFOOrder(t *testing.T) {
	const workers = 2
	const jobs = 2*workers + 1

	started := make(chan int, jobs)
	release := make(chan struct{})

	p := New("test", workers, jobs, func(job int) int {
		started <- job
		<-release
		return job * 10
	})
	defer p.Close()

	var completed []int
	for i := 0; i < jobs; i++ {
		err := p.Submit(i, func(res int) {
			completed = append(completed, res)
		})
		require.NoError(t, err)
	}

	stats := p.Stats()
	require.Equal(t, workers, stats.Busy)
	require.Equal(t, workers+1, stats.Pending)

	first := map[int]bool{<-started: true, <-started: true}
	require.Equal(t, map[int]bool{0: true, 1: true}, first)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	for next := workers; next < jobs; next++ {
		release <- struct{}{}

		n, err := p.DrainWait(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, next, <-started)
	}

	for i := 0; i < workers; i++ {
		release <- struct{}{}
	}
	for len(completed) < jobs {
		_, err := p.DrainWait(ctx)
		require.NoError(t, err)
	}

	require.Len(t, completed, jobs)
	require.Equal(t, Stats{Workers: workers}, p.Stats())
}

func TestPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	p := New("test", 1, 1, func(job int) int {
		<-release
		return job
	})
	defer p.Close()

	require.NoError(t, p.Submit(1, nil))
	require.NoError(t, p.Submit(2, nil))

	err := p.Submit(3, nil)
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeQueueFull))

	close(release)
}

func TestPoolDrainDoesNotBlock(t *testing.T) {
	p := New("test", 1, 1, func(job int) int { return job })
	defer p.Close()

	require.Equal(t, 0, p.Drain())
}

func TestPoolDrainWaitCanceled(t *testing.T) {
	p := New("test", 1, 1, func(job int) int { return job })
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.DrainWait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPoolSubmitFromDone(t *testing.T) {
	p := New("test", 1, 4, func(job int) int { return job })
	defer p.Close()

	var order []int
	var done func(int)
	done = func(res int) {
		order = append(order, res)
		if res == 0 {
			require.NoError(t, p.Submit(99, done))
		}
	}

	require.NoError(t, p.Submit(0, done))
	require.NoError(t, p.Submit(1, done))
	require.NoError(t, p.Submit(2, done))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	for len(order) < 4 {
		_, err := p.DrainWait(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, []int{0, 1, 2, 99}, order)
}

func TestPoolClosed(t *testing.T) {
	p := New("test", 1, 1, func(job int) int { return job })
	p.Close()
	p.Close()

	err := p.Submit(1, nil)
	require.True(t, errors.IsType(err, ErrTypePoolClosed))
}
