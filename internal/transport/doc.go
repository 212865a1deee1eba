// Package transport wraps a single network connection in a duplex byte
// channel with independently configurable read/write timeouts and
// context-aware I/O.
//
// Blocking operations poll in bounded slices so that cancellation is
// observed promptly even while the socket is idle. Any I/O failure other
// than a clean EOF tears the connection down, so a Transport is never left
// half-broken: after a failed operation every subsequent call fails with
// net.ErrClosed.
package transport
