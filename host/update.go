package host

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
)

// PrepareUpdate starts an update sequence, erasing the roster region first
// when erase is set. The badge switches to its update screen.
func (c *Client) PrepareUpdate(ctx context.Context, erase bool) error {
	var value uint16
	if erase {
		value = 1
	}
	return c.out(ctx, protocol.RequestSystemUpload, value, nil)
}

// UpdateStatus polls the update status once.
func (c *Client) UpdateStatus(ctx context.Context) (protocol.SystemUpdateStatus, error) {
	var buf [1]byte
	data, err := c.in(ctx, protocol.RequestSystemUpload, 0, buf[:])
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("status is %d bytes: %w", len(data), pkg.ErrProtocolMismatch)
	}
	return protocol.SystemUpdateStatus(data[0]), nil
}

// WaitStatus polls until no flash operation is pending and returns the
// outcome. The delay between polls doubles up to the maximum interval. A
// failed outcome is returned together with its error.
func (c *Client) WaitStatus(ctx context.Context) (protocol.SystemUpdateStatus, error) {
	delay := c.poll
	for {
		s, err := c.UpdateStatus(ctx)
		if err != nil {
			return 0, err
		}
		if !s.Pending() {
			return s, s.Err()
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return s, ctx.Err()
		case <-t.C:
		}
		delay = min(2*delay, c.maxPoll)
	}
}

// WriteChunk queues one chunk at offset into the roster region.
func (c *Client) WriteChunk(ctx context.Context, offset uint16, chunk []byte) error {
	if len(chunk) == 0 || len(chunk) > protocol.MaxChunk {
		return fmt.Errorf("chunk of %d bytes: %w", len(chunk), pkg.ErrInvalidParameter)
	}
	return c.out(ctx, protocol.RequestSystemDNLoad, offset, chunk)
}

// Finalize asks the badge to validate and activate the written roster.
func (c *Client) Finalize(ctx context.Context) error {
	return c.out(ctx, protocol.RequestSystemDNLoad, 0, nil)
}

// UploadSystem runs a whole update: start, stream blob in 64-byte chunks
// waiting for each to be written, then finalize. blob must be built for the
// badge's roster region address and be a multiple of 4 bytes long.
func (c *Client) UploadSystem(ctx context.Context, blob []byte, erase bool) error {
	switch {
	case len(blob) == 0:
		return fmt.Errorf("empty roster: %w", pkg.ErrInvalidParameter)
	case len(blob)%protocol.ChunkAlign != 0:
		return fmt.Errorf("roster of %d bytes is not %d-byte aligned: %w", len(blob), protocol.ChunkAlign, pkg.ErrFlashAlignment)
	case len(blob) > 0x10000:
		return fmt.Errorf("roster of %d bytes: %w", len(blob), pkg.ErrTooLarge)
	}

	if err := c.PrepareUpdate(ctx, erase); err != nil {
		return err
	}
	s, err := c.WaitStatus(ctx)
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}
	pkg.LogDebug(pkg.ComponentHost, "update prepared", "status", s.String(), "bytes", len(blob))

	for off := 0; off < len(blob); off += protocol.MaxChunk {
		end := min(off+protocol.MaxChunk, len(blob))
		if err := c.WriteChunk(ctx, uint16(off), blob[off:end]); err != nil {
			return err
		}
		s, err := c.WaitStatus(ctx)
		if err != nil {
			return fmt.Errorf("chunk at 0x%x: %w", off, err)
		}
		if s != protocol.StatusWritten {
			return fmt.Errorf("chunk at 0x%x: status %v: %w", off, s, pkg.ErrProtocolMismatch)
		}
		if c.onProgress != nil {
			c.onProgress(end, len(blob))
		}
	}

	if err := c.Finalize(ctx); err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentHost, "roster uploaded", "bytes", len(blob))
	return nil
}
