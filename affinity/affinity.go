// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Pinning of the reactor goroutine to one logical CPU. Platform code lives in
// affinity_linux.go and affinity_other.go.

package affinity

import (
	"fmt"
	"runtime"
)

// Pin locks the calling goroutine to its OS thread and binds that thread to
// cpu. Call it first thing on the goroutine that will run the reactor; the
// lock is released by Unpin or when the goroutine exits.
func Pin(cpu int) error {
	if cpu < 0 || cpu >= runtime.NumCPU() {
		return fmt.Errorf("affinity: cpu %d out of range [0,%d)", cpu, runtime.NumCPU())
	}
	runtime.LockOSThread()
	if err := setAffinityPlatform(cpu); err != nil {
		runtime.UnlockOSThread()
		return err
	}
	return nil
}

// Unpin allows the thread on every CPU again and unlocks the goroutine.
func Unpin() error {
	defer runtime.UnlockOSThread()
	return clearAffinityPlatform()
}

// Current returns the CPUs the calling thread may run on.
func Current() ([]int, error) {
	return currentAffinityPlatform()
}
