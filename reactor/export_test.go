// File: reactor/export_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "time"

// SetWait replaces the readiness wait of m.
func SetWait(m *Manager, wait func(timeout time.Duration) (int, error)) {
	m.wait = wait
}
