// Copyright 2024 The go-mal Authors
// This file is part of the go-mal library.
//
// The go-mal library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-mal library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-mal library. If not, see <http://www.gnu.org/licenses/>.

package gdk

import (
	"sync"
	"testing"
)

func TestBatLifecycle(t *testing.T) {
	p := NewBBP()
	id := p.NewBAT(TypeInt, 100, 4096, 0, 512)
	if id == 0 {
		t.Fatal("NewBAT returned nil handle")
	}
	if p.LogicalRefs(id) != 1 {
		t.Errorf("fresh handle lrefs = %d; want 1", p.LogicalRefs(id))
	}
	d, ok := p.Descriptor(id)
	if !ok || d.Rows != 100 || d.TType != TypeInt {
		t.Errorf("Descriptor = %+v, %v", d, ok)
	}
	p.DecRef(id, true)
	if _, ok := p.Descriptor(id); ok {
		t.Error("handle survived logical refcount zero")
	}
	if p.LiveCount() != 0 {
		t.Errorf("LiveCount = %d; want 0", p.LiveCount())
	}
}

func TestBatPhysicalPinBlocksReclaim(t *testing.T) {
	p := NewBBP()
	id := p.NewBAT(TypeInt, 1, 8, 0, 0)
	p.IncRef(id, false) // operator pin
	p.DecRef(id, true)  // logical count to zero
	if _, ok := p.Descriptor(id); !ok {
		t.Fatal("handle reclaimed while physically pinned")
	}
	p.DecRef(id, false)
	if _, ok := p.Descriptor(id); ok {
		t.Error("handle survived pin release")
	}
}

func TestBatPersistentRetained(t *testing.T) {
	p := NewBBP()
	id := p.NewBAT(TypeLng, 5, 40, 0, 0)
	if err := p.SetPersistent(id, true); err != nil {
		t.Fatalf("SetPersistent: %v", err)
	}
	p.DecRef(id, true)
	if _, ok := p.Descriptor(id); !ok {
		t.Error("persistent handle was reclaimed")
	}
}

func TestBatStampMonotone(t *testing.T) {
	p := NewBBP()
	a := p.NewBAT(TypeInt, 0, 0, 0, 0)
	b := p.NewBAT(TypeInt, 0, 0, 0, 0)
	if p.Stamp(b) <= p.Stamp(a) {
		t.Error("stamps not monotone across creation")
	}
	before := p.Stamp(a)
	if err := p.Touch(a); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if p.Stamp(a) <= before {
		t.Error("Touch did not advance the stamp")
	}
	if p.Stamp(a) <= p.Stamp(b) {
		t.Error("touched stamp not past all earlier stamps")
	}
}

func TestBatDescriptorCacheCoherence(t *testing.T) {
	p := NewBBP()
	id := p.NewBAT(TypeInt, 10, 80, 0, 0)
	if _, ok := p.Descriptor(id); !ok { // warm the cache
		t.Fatal("descriptor missing")
	}
	_ = p.Touch(id)
	d, _ := p.Descriptor(id)
	if d.Stamp != p.Stamp(id) {
		t.Error("cached descriptor went stale after Touch")
	}
}

func TestBatMemoryFootprint(t *testing.T) {
	p := NewBBP()
	id := p.NewBAT(TypeStr, 1000, 8192, 65536, 4096)
	if got := p.MemoryFootprint(id); got != 8192+65536+4096 {
		t.Errorf("MemoryFootprint = %d", got)
	}
	if got := p.MemoryFootprint(BatID(999)); got != 0 {
		t.Errorf("unknown handle footprint = %d; want 0", got)
	}
}

func TestBatUnknownHandle(t *testing.T) {
	p := NewBBP()
	if err := p.Touch(BatID(42)); err != ErrUnknownBat {
		t.Errorf("Touch(unknown) = %v; want ErrUnknownBat", err)
	}
	if err := p.SetPersistent(BatID(42), true); err != ErrUnknownBat {
		t.Errorf("SetPersistent(unknown) = %v; want ErrUnknownBat", err)
	}
}

func TestBatConcurrentRefCounts(t *testing.T) {
	p := NewBBP()
	id := p.NewBAT(TypeInt, 0, 0, 0, 0)
	const workers = 8
	const rounds = 200
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				p.IncRef(id, true)
				p.DecRef(id, true)
			}
		}()
	}
	wg.Wait()
	if p.LogicalRefs(id) != 1 {
		t.Errorf("lrefs after churn = %d; want 1", p.LogicalRefs(id))
	}
}

func TestKernelErrorBuffer(t *testing.T) {
	k := NewKernel()
	if k.HasError() {
		t.Fatal("fresh kernel reports pending error")
	}
	k.Errorf("heap corruption at %d", 7)
	k.Errorf("secondary fault")
	if !k.HasError() {
		t.Fatal("error not pending")
	}
	got := k.TakeError()
	if got != "heap corruption at 7\nsecondary fault" {
		t.Errorf("TakeError = %q", got)
	}
	if k.HasError() {
		t.Error("TakeError did not drain the buffer")
	}
}
