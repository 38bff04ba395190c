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
	"errors"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
)

// BatID is the opaque handle of a binary table owned by the buffer pool.
// Id 0 is the nil handle.
type BatID int32

// BATDesc carries the cached metadata of a table handle. The payload itself
// stays inside the storage engine; the abstract machine only sees this
// descriptor plus the two reference counters.
type BATDesc struct {
	ID         BatID
	TType      Type  // element type
	Rows       int64 // cached row count
	HeapSize   int64 // primary heap, bytes
	VHeapSize  int64 // variable-size heap, bytes
	HashSize   int64 // hash index, bytes
	Persistent bool
	Stamp      int64 // monotone change stamp
}

// ErrUnknownBat is returned for operations on a handle the pool does not
// know (never issued, or already reclaimed).
var ErrUnknownBat = errors.New("gdk: unknown bat identifier")

type batEntry struct {
	desc  BATDesc
	lrefs int64 // logical references: value slots holding the handle
	prefs int64 // physical references: in-flight kernel pins
}

const descCacheSize = 512

// BBP is the buffer-pool facade: it issues table handles, tracks the two
// reference counts per handle, and reclaims descriptors when both reach
// zero. All counter updates are atomic; the map is guarded separately.
type BBP struct {
	mu      sync.RWMutex
	entries map[BatID]*batEntry
	nextID  int32
	stamp   int64

	// descCache keeps recently used descriptors; quick descriptor probes
	// during admission estimation bypass the entry map through it.
	descCache *lru.Cache
}

// NewBBP creates an empty buffer pool.
func NewBBP() *BBP {
	c, _ := lru.New(descCacheSize)
	return &BBP{entries: make(map[BatID]*batEntry), descCache: c}
}

// NewBAT issues a fresh table handle with the given cached metadata. The
// handle starts with one logical reference owned by the caller.
func (p *BBP) NewBAT(ttype Type, rows, heap, vheap, hash int64) BatID {
	id := BatID(atomic.AddInt32(&p.nextID, 1))
	e := &batEntry{
		desc: BATDesc{
			ID:        id,
			TType:     ttype,
			Rows:      rows,
			HeapSize:  heap,
			VHeapSize: vheap,
			HashSize:  hash,
			Stamp:     atomic.AddInt64(&p.stamp, 1),
		},
		lrefs: 1,
	}
	p.mu.Lock()
	p.entries[id] = e
	p.mu.Unlock()
	return id
}

func (p *BBP) entry(id BatID) *batEntry {
	p.mu.RLock()
	e := p.entries[id]
	p.mu.RUnlock()
	return e
}

// Descriptor returns a copy of the cached metadata for id.
func (p *BBP) Descriptor(id BatID) (BATDesc, bool) {
	if d, ok := p.descCache.Get(id); ok {
		return d.(BATDesc), true
	}
	e := p.entry(id)
	if e == nil {
		return BATDesc{}, false
	}
	p.mu.RLock()
	d := e.desc
	p.mu.RUnlock()
	p.descCache.Add(id, d)
	return d, true
}

// IncRef bumps the logical (value-slot) or physical (pin) counter of id.
func (p *BBP) IncRef(id BatID, logical bool) int64 {
	e := p.entry(id)
	if e == nil {
		return 0
	}
	if logical {
		return atomic.AddInt64(&e.lrefs, 1)
	}
	return atomic.AddInt64(&e.prefs, 1)
}

// DecRef drops one reference. A handle is reclaimed only when the logical
// count reaches zero and no operator holds a physical pin; persistent
// tables keep their descriptor regardless.
func (p *BBP) DecRef(id BatID, logical bool) int64 {
	e := p.entry(id)
	if e == nil {
		return 0
	}
	var n int64
	if logical {
		n = atomic.AddInt64(&e.lrefs, -1)
	} else {
		n = atomic.AddInt64(&e.prefs, -1)
	}
	if atomic.LoadInt64(&e.lrefs) <= 0 && atomic.LoadInt64(&e.prefs) <= 0 && !e.desc.Persistent {
		p.mu.Lock()
		if atomic.LoadInt64(&e.lrefs) <= 0 && atomic.LoadInt64(&e.prefs) <= 0 {
			delete(p.entries, id)
			p.descCache.Remove(id)
		}
		p.mu.Unlock()
	}
	return n
}

// LogicalRefs reports the logical reference count of id.
func (p *BBP) LogicalRefs(id BatID) int64 {
	e := p.entry(id)
	if e == nil {
		return 0
	}
	return atomic.LoadInt64(&e.lrefs)
}

// PhysicalRefs reports the pin count of id.
func (p *BBP) PhysicalRefs(id BatID) int64 {
	e := p.entry(id)
	if e == nil {
		return 0
	}
	return atomic.LoadInt64(&e.prefs)
}

// Stamp returns the change stamp of id; zero for unknown handles.
func (p *BBP) Stamp(id BatID) int64 {
	d, ok := p.Descriptor(id)
	if !ok {
		return 0
	}
	return d.Stamp
}

// CurStamp returns the most recently issued change stamp.
func (p *BBP) CurStamp() int64 { return atomic.LoadInt64(&p.stamp) }

// Touch advances the change stamp of id, marking a payload mutation.
func (p *BBP) Touch(id BatID) error {
	e := p.entry(id)
	if e == nil {
		return ErrUnknownBat
	}
	s := atomic.AddInt64(&p.stamp, 1)
	p.mu.Lock()
	e.desc.Stamp = s
	p.mu.Unlock()
	p.descCache.Remove(id)
	return nil
}

// SetPersistent toggles the persistence flag of id.
func (p *BBP) SetPersistent(id BatID, persistent bool) error {
	e := p.entry(id)
	if e == nil {
		return ErrUnknownBat
	}
	p.mu.Lock()
	e.desc.Persistent = persistent
	p.mu.Unlock()
	p.descCache.Remove(id)
	return nil
}

// MemoryFootprint estimates the working-set bytes of id: primary heap,
// variable heap, and hash index.
func (p *BBP) MemoryFootprint(id BatID) int64 {
	d, ok := p.Descriptor(id)
	if !ok {
		return 0
	}
	return d.HeapSize + d.VHeapSize + d.HashSize
}

// LiveCount reports how many handles the pool currently tracks.
func (p *BBP) LiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
