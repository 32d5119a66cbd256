// File: affinity/affinity_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package affinity_test

import (
	"runtime"
	"testing"

	"github.com/momentics/hioload-net/affinity"
)

func TestPinRange(t *testing.T) {
	if err := affinity.Pin(-1); err == nil {
		t.Fatal("negative cpu accepted")
	}
	if err := affinity.Pin(runtime.NumCPU()); err == nil {
		t.Fatal("cpu beyond NumCPU accepted")
	}
}

func TestPinAndUnpin(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("affinity is linux only")
	}
	before, err := affinity.Current()
	if err != nil {
		t.Fatal(err)
	}
	if len(before) == 0 {
		t.Fatal("empty affinity set")
	}
	cpu := before[len(before)-1]
	done := make(chan error, 1)
	go func() {
		if err := affinity.Pin(cpu); err != nil {
			done <- err
			return
		}
		got, err := affinity.Current()
		if err == nil && (len(got) != 1 || got[0] != cpu) {
			t.Errorf("pinned set = %v, want [%d]", got, cpu)
		}
		done <- affinity.Unpin()
	}()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
