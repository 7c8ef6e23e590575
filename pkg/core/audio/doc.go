// Package audio provides the capture channel that feeds voice queries: PCM
// sources (microphone, file, memory), the stream contract a backend reads
// from, and an energy-based endpointer for auto-terminated queries.
//
// A Stream is an io.Reader with two ways to end it:
//
//	Stop()  - no further audio is captured; buffered audio is still
//	          readable, then Read returns io.EOF.
//	Close() - the device is released; pending and future reads fail.
package audio
