package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/fwdproxy/internal/transport"
)

// relay copies src to dst until src closes and reports the bytes delivered. If ctx is canceled first, both
// transports are closed to unblock the copy.
func relay(ctx context.Context, dst, src *transport.Transport) (int64, error) {
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	var n int64
	g.Go(func() error {
		defer close(done)
		for chunk, err := range src.Receive(gctx) {
			if err != nil {
				return err
			}
			if err := dst.Send(gctx, chunk); err != nil {
				var se *transport.SendError
				if errors.As(err, &se) {
					n += int64(se.Sent)
				}
				return err
			}
			n += int64(len(chunk))
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			_ = src.Close()
			_ = dst.Close()
		case <-done:
		}
		return nil
	})

	err := g.Wait()
	return n, err
}
