//go:build !linux
// +build !linux

// File: affinity/affinity_other.go
// Author: momentics <momentics@gmail.com>

package affinity

import "github.com/momentics/hioload-net/api"

func setAffinityPlatform(int) error { return api.ErrNotSupported }

func clearAffinityPlatform() error { return api.ErrNotSupported }

func currentAffinityPlatform() ([]int, error) { return nil, api.ErrNotSupported }
