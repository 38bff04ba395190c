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

package mal

import (
	"sync"

	"github.com/monetvm/go-mal/gdk"
)

// Namespace interns module and function identifiers once, at block-building
// time. After interning, identifier equality is a comparison of canonical
// instances; type resolution and the optimizer passes never compare byte
// strings again. Insertions take the namespace lock exclusively; lookups
// take its shared read side.
type Namespace struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewNamespace creates an empty interner.
func NewNamespace() *Namespace {
	return &Namespace{names: make(map[string]string)}
}

// PutName interns nme and returns the canonical instance. Identifiers are
// clipped to the kernel identifier length, matching the parser contract.
func (ns *Namespace) PutName(nme string) string {
	if nme == "" {
		return ""
	}
	if len(nme) >= gdk.IdentLength {
		nme = nme[:gdk.IdentLength-1]
	}
	ns.mu.RLock()
	c, ok := ns.names[nme]
	ns.mu.RUnlock()
	if ok {
		return c
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if c, ok = ns.names[nme]; ok {
		return c
	}
	ns.names[nme] = nme
	return nme
}

// GetName returns the canonical instance of nme when it was interned
// before, and "" otherwise.
func (ns *Namespace) GetName(nme string) string {
	if nme == "" {
		return ""
	}
	if len(nme) >= gdk.IdentLength {
		nme = nme[:gdk.IdentLength-1]
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.names[nme]
}

// DelName is a placeholder; namespace garbage collection is not available.
// Identifiers live for the process lifetime.
func (ns *Namespace) DelName(nme string) {}

// Count reports the number of interned identifiers.
func (ns *Namespace) Count() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.names)
}
