package main

import (
	"context"
	"fmt"
	"time"

	"tunnelctl/internal/ipc"
)

// notify returns a subscriber that forwards values to ch without blocking
// the read loop; values arriving while ch is full are dropped.
func notify[T any](ch chan T) func(T) {
	return func(v T) {
		select {
		case ch <- v:
		default:
		}
	}
}

// await returns the next value on ch. It fails on timeout, cancellation,
// or when the client disconnects first.
func await[T any](ctx context.Context, client *ipc.Client, ch <-chan T, timeout time.Duration, what string) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return zero, fmt.Errorf("no %s within %s", what, timeout)
	case <-client.Done():
		if err := client.Err(); err != nil {
			return zero, fmt.Errorf("waiting for %s: control service disconnected: %w", what, err)
		}
		return zero, fmt.Errorf("waiting for %s: control service disconnected", what)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
