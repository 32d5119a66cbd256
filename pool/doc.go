// Package pool
// Author: momentics <momentics@gmail.com>
//
// Reusable scratch memory for socket and file reads on the reactor goroutine.
package pool
