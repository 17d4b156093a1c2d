// Package transport owns the single byte-stream connection to a line-oriented
// device such as a Newport ESP302 motion controller.
//
// A Transport holds at most one live connection. Connect tears down whatever
// connection exists and dials a fresh one, retrying after a fixed backoff
// until it succeeds, the context is cancelled, the Transport is closed, or the
// optional attempt limit is reached. There is no partial repair: every
// reconnect replaces the connection wholesale.
//
// # Wire format
//
// SendLine appends CR LF to the text and writes it with the write timeout.
// ReadLine waits up to the read timeout for one LF terminated line (or a line
// bounded by the configured maximum length) and returns it with surrounding
// whitespace removed.
//
// # States
//
//   - Disconnected: no connection, initial state and the state after Close.
//   - Connecting: a Connect call is dialing or backing off.
//   - Connected: the connection is usable.
//   - Faulted: an I/O error, a closed peer, or an exhausted attempt limit left
//     the connection unusable; the next Connect replaces it.
//
// Transport methods other than Close, State, WaitState and Metrics are meant
// to be called from a single goroutine (the link worker).
package transport
