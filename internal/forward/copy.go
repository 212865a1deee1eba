package forward

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CopyBidirectional pipes bytes between left and right until either side
// closes or ctx is canceled. Both connections are closed before it returns.
func CopyBidirectional(ctx context.Context, left, right net.Conn) error {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	// If the context is canceled, close both sides to unblock the copies.
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var g errgroup.Group

	// Whichever direction finishes first closes both sides, so the other
	// copy fails with ErrClosed. That is a normal shutdown, not an error.
	g.Go(func() error {
		_, err := io.Copy(left, right)
		closeBoth()
		return ignoreClosed(err)
	})

	g.Go(func() error {
		_, err := io.Copy(right, left)
		closeBoth()
		return ignoreClosed(err)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return context.Cause(ctx)
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
