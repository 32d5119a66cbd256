// control/watcher_test.go
// Author: momentics <momentics@gmail.com>

package control_test

import (
	"os"
	"testing"
	"time"

	"github.com/momentics/hioload-net/control"
)

func TestWatcherReloadsValidChanges(t *testing.T) {
	p := writeFile(t, "acl: \"+10.0.0.0/8\"\n")
	initial, err := control.LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan *control.Config, 4)
	w, err := control.NewWatcher(p, initial, control.UpdaterFunc(func(c *control.Config) { got <- c }), nil)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(100 * time.Millisecond)
	w.Start()
	defer w.Stop()

	// Invalid edit: must not reach the updater.
	if err := os.WriteFile(p, []byte("acl: \"10.0.0.0/8\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		t.Fatalf("invalid config delivered: %+v", c)
	case <-time.After(400 * time.Millisecond):
	}

	if err := os.WriteFile(p, []byte("acl: \"-10.1.0.0/16\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if c.ACL != "-10.1.0.0/16" {
			t.Fatalf("reloaded acl = %q", c.ACL)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
	if w.Current().ACL != "-10.1.0.0/16" {
		t.Fatal("Current not updated")
	}
}
