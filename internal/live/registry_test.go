package live

import (
	"sync/atomic"
	"testing"
)

type countingRefresher struct {
	n atomic.Int64
}

func (c *countingRefresher) Refresh() { c.n.Add(1) }

func TestRegistryNotifiesByKey(t *testing.T) {
	reg := NewRegistry()
	a, b := &countingRefresher{}, &countingRefresher{}

	reg.Add("room:1", a)
	reg.Add("room:2", b)
	reg.Add("user:x", a)

	reg.Notify("room:1")
	if a.n.Load() != 1 || b.n.Load() != 0 {
		t.Errorf("a=%d b=%d", a.n.Load(), b.n.Load())
	}

	reg.Notify("room:2", "user:x")
	if a.n.Load() != 2 || b.n.Load() != 1 {
		t.Errorf("a=%d b=%d", a.n.Load(), b.n.Load())
	}

	if reg.Len() != 3 {
		t.Errorf("Len = %d", reg.Len())
	}
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()
	a := &countingRefresher{}

	reg.Add("room:1", a)
	reg.Remove("room:1", a)
	reg.Remove("room:1", a)
	reg.Notify("room:1")

	if a.n.Load() != 0 {
		t.Error("removed refresher was notified")
	}
	if reg.Len() != 0 {
		t.Errorf("Len = %d", reg.Len())
	}
}
