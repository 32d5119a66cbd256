package buffer_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/momentics/hioload-net/core/buffer"
)

func TestAppendConsumeFIFO(t *testing.T) {
	b := buffer.New(4)
	if n := b.Append([]byte("hello")); n != 5 {
		t.Fatalf("Append returned %d, want 5", n)
	}
	b.AppendString(" world")
	b.Consume(6)
	if got := string(b.Bytes()); got != "world" {
		t.Fatalf("got %q after consume, want %q", got, "world")
	}
}

func TestCapacityNeverShrinks(t *testing.T) {
	b := buffer.New(8)
	b.Append(make([]byte, 100))
	c := b.Cap()
	b.Consume(100)
	if b.Len() != 0 || b.Cap() != c {
		t.Fatalf("len=%d cap=%d, want len=0 cap=%d", b.Len(), b.Cap(), c)
	}
}

func TestConsumeClamps(t *testing.T) {
	b := buffer.New(0)
	b.AppendString("abc")
	b.Consume(10)
	if b.Len() != 0 {
		t.Fatalf("Len = %d after over-consume", b.Len())
	}
}

func TestLimitRejectsWholeAppend(t *testing.T) {
	b := buffer.New(4)
	b.SetLimit(16)
	if n := b.Append(make([]byte, 10)); n != 10 {
		t.Fatalf("first append = %d", n)
	}
	if n := b.Append(make([]byte, 10)); n != 0 {
		t.Fatalf("append over limit = %d, want 0", n)
	}
	if b.Len() != 10 {
		t.Fatalf("partial append happened: len=%d", b.Len())
	}
}

// Random append/consume sequences against a plain slice model.
func TestRandomSequencesMatchModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		b := buffer.New(1 + rng.Intn(16))
		var model []byte
		for step := 0; step < 100; step++ {
			if rng.Intn(3) > 0 {
				p := make([]byte, rng.Intn(300))
				rng.Read(p)
				b.Append(p)
				model = append(model, p...)
			} else {
				n := 0
				if len(model) > 0 {
					n = rng.Intn(len(model) + 1)
				}
				b.Consume(n)
				model = model[n:]
			}
			if b.Len() > b.Cap() {
				t.Fatalf("len %d exceeds cap %d", b.Len(), b.Cap())
			}
			if !bytes.Equal(b.Bytes(), model) {
				t.Fatalf("round %d step %d: buffer diverged from model", round, step)
			}
		}
	}
}
