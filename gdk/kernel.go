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
	"fmt"
	"sync"
)

// Kernel bundles the process-wide kernel state: the atom registry, the
// buffer pool, and the kernel error buffer. The interpreter drains the
// error buffer after every callback and wraps its content as a GDKerror
// exception, mirroring errors raised deep inside kernel primitives that
// have no access to the interpreter context.
type Kernel struct {
	Atoms *Registry
	Pool  *BBP

	errMu  sync.Mutex
	errbuf string
}

// NewKernel creates a kernel with a seeded registry and an empty pool.
func NewKernel() *Kernel {
	return &Kernel{Atoms: NewRegistry(), Pool: NewBBP()}
}

// Errorf appends a formatted message to the kernel error buffer.
func (k *Kernel) Errorf(format string, args ...interface{}) {
	k.errMu.Lock()
	defer k.errMu.Unlock()
	if k.errbuf != "" {
		k.errbuf += "\n"
	}
	k.errbuf += fmt.Sprintf(format, args...)
}

// TakeError drains the error buffer, returning its content.
func (k *Kernel) TakeError() string {
	k.errMu.Lock()
	defer k.errMu.Unlock()
	s := k.errbuf
	k.errbuf = ""
	return s
}

// HasError reports whether the error buffer holds a pending message.
func (k *Kernel) HasError() bool {
	k.errMu.Lock()
	defer k.errMu.Unlock()
	return k.errbuf != ""
}
