package pool_test

import (
	"testing"

	"github.com/momentics/hioload-net/pool"
)

func TestBytePoolReuse(t *testing.T) {
	bp := pool.NewBytePool(128)
	b1 := bp.GetBuffer()
	if len(*b1) != 128 {
		t.Fatalf("len = %d, want 128", len(*b1))
	}
	*b1 = (*b1)[:10]
	bp.PutBuffer(b1)
	b2 := bp.GetBuffer()
	if len(*b2) != 128 {
		t.Errorf("returned buffer not restored to full size: %d", len(*b2))
	}
}

func TestBytePoolDropsForeignBuffers(t *testing.T) {
	bp := pool.NewBytePool(64)
	small := make([]byte, 8)
	bp.PutBuffer(&small)
	if b := bp.GetBuffer(); len(*b) != 64 {
		t.Errorf("foreign buffer leaked into pool: len=%d", len(*b))
	}
}
