// Package dialer establishes tunneled connections through an intermediary
// proxy server and hands back a transparent duplex byte channel.
//
// Dialers implement a small interface (DialContext) returning a
// *transport.Transport positioned at the first tunneled payload byte.
// Concrete implementations cover direct connections, SOCKS4/4a, SOCKS5,
// and HTTP/HTTPS CONNECT proxies; dialer.New selects one from a proxy URL
// scheme.
package dialer
