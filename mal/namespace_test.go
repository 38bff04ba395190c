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
	"strings"
	"sync"
	"testing"

	"github.com/monetvm/go-mal/gdk"
)

func TestNamespaceInterning(t *testing.T) {
	ns := NewNamespace()
	a := ns.PutName("algebra")
	b := ns.PutName("algebra")
	if a != b {
		t.Error("second PutName returned a different instance")
	}
	if ns.Count() != 1 {
		t.Errorf("Count = %d; want 1", ns.Count())
	}
	if got := ns.GetName("algebra"); got != a {
		t.Errorf("GetName = %q; want %q", got, a)
	}
	if got := ns.GetName("unseen"); got != "" {
		t.Errorf("GetName(unseen) = %q; want empty", got)
	}
}

func TestNamespaceClipsLongIdentifiers(t *testing.T) {
	ns := NewNamespace()
	long := strings.Repeat("z", gdk.IdentLength+10)
	got := ns.PutName(long)
	if len(got) != gdk.IdentLength-1 {
		t.Errorf("interned length = %d; want %d", len(got), gdk.IdentLength-1)
	}
	if ns.GetName(long) != got {
		t.Error("lookup with overlong key did not find the clipped entry")
	}
}

func TestNamespaceEmpty(t *testing.T) {
	ns := NewNamespace()
	if ns.PutName("") != "" {
		t.Error("empty identifier was interned")
	}
}

func TestNamespaceConcurrentPut(t *testing.T) {
	ns := NewNamespace()
	var wg sync.WaitGroup
	names := []string{"calc", "bat", "io", "algebra", "group", "sql"}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, n := range names {
				ns.PutName(n)
			}
		}()
	}
	wg.Wait()
	if ns.Count() != len(names) {
		t.Errorf("Count = %d; want %d", ns.Count(), len(names))
	}
}
