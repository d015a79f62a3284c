package agenda

import "errors"

var (
	// ErrBeforeWindow is returned for negative positions.
	ErrBeforeWindow = errors.New("agenda: position before window")
	// ErrAfterWindow is returned for positions at or past RowCount.
	ErrAfterWindow = errors.New("agenda: position after window")
	// ErrNoChunk means the position is inside the window but no chunk holds it.
	ErrNoChunk = errors.New("agenda: no chunk covers position")
	// ErrClosed is returned once the window or its loop has shut down.
	ErrClosed = errors.New("agenda: closed")
)
