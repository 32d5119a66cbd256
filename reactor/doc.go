// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor is a single-threaded, poll-based connection reactor.
//
// A Manager owns every socket: listeners, accepted and outbound connections,
// and the ephemeral connections that carry single UDP datagrams. One
// goroutine calls Poll (or Run); it reads into each connection's receive
// queue, hands the bytes to the connection's Protocol, writes the send queue
// back out and, at the end of every iteration, destroys connections marked
// for closing or idle for too long. Other goroutines interact only through
// Submit, Send, Broadcast and Conn.WriteAsync, which queue work and wake the
// reactor through a socket pair.
package reactor
