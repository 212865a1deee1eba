// Package socks implements the client side of the SOCKS4, SOCKS4a, and
// SOCKS5 CONNECT handshakes.
//
// SOCKS5 framing builds on the low-level types in
// github.com/txthinking/socks5; SOCKS4/4a frames are built by hand since
// the library does not cover them. All reads consume exactly the bytes the
// protocol defines, so the first tunneled payload byte is the next byte on
// the stream after a successful handshake.
//
// The functions operate on a plain io.ReadWriter; callers keep handshakes
// cancellable by passing transport.WithContext.
package socks
