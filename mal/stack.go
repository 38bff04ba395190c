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
	"github.com/ethereum/go-ethereum/log"

	"github.com/monetvm/go-mal/gdk"
)

// Frame status and command bytes. The status byte is written by other
// threads to pause or quit a running frame; the command byte carries the
// cooperative debugger mode.
const (
	StatusRun   byte = 0
	StatusPause byte = 'p'
	StatusQuit  byte = 'q'

	CmdNone byte = 0
	CmdExit byte = 'x'
)

// stackIncrement rounds stack growth, leaving slack for optimizers that
// add variables at run time.
const stackIncrement = 32

// MalStk is the per-invocation value stack frame: one slot per variable of
// its block, caller linkage, and the bookkeeping the interpreter needs to
// safeguard the host stack.
type MalStk struct {
	Stk    []Value
	StkTop int // slots in use
	StkBot int // first slot not yet initialised by a factory prologue
	Blk    *MalBlk
	Up     *MalStk // caller frame

	Cmd       byte // cooperative debug mode
	Status    byte // run/pause/quit, written cross-thread
	PCup      int  // pc of the active call in this frame
	CallDepth int
	StkDepth  int // estimated committed slots across the chain

	// KeepAlive suppresses garbage collection on function exit; factory
	// plants and global session frames set it.
	KeepAlive bool
}

// NewGlobalStack allocates a zeroed frame with the given slot count.
func NewGlobalStack(size int) *MalStk {
	return &MalStk{Stk: make([]Value, size)}
}

// ReallocStack grows the frame to hold at least cnt slots, in
// stackIncrement units; the old slots are carried over.
func ReallocStack(s *MalStk, cnt int) *MalStk {
	if len(s.Stk) > cnt {
		return s
	}
	k := ((cnt / stackIncrement) + 1) * stackIncrement
	ns := make([]Value, k)
	copy(ns, s.Stk)
	s.Stk = ns
	return s
}

// PrepareMALstack allocates a frame sized for max(size, vtop) and seeds it:
// constants are copied unless disabled, the remaining slots become typed
// nils.
func PrepareMALstack(vm *VM, mb *MalBlk, size int) *MalStk {
	if size < mb.VTop() {
		size = mb.VTop()
	}
	stk := NewGlobalStack(size)
	stk.StkTop = mb.VTop()
	stk.Blk = mb
	initStackFrom(vm, mb, stk, 0)
	return stk
}

// initStackFrom seeds slots [from, vtop); factory re-entry skips the
// already-persistent prefix.
func initStackFrom(vm *VM, mb *MalBlk, stk *MalStk, from int) {
	for i := from; i < mb.VTop(); i++ {
		v := mb.Vars[i]
		lhs := &stk.Stk[i]
		if v.Flags&VarConstant != 0 {
			if v.Flags&VarDisabled == 0 {
				_ = gdk.ValCopy(vm.Kernel.Atoms, lhs, &v.Value)
			}
			continue
		}
		*lhs = vm.Kernel.Atoms.Null(v.Type)
	}
}

// GarbageElement releases the payload owned by one slot: table handles
// drop a logical reference, external atoms free through their capability,
// strings are cleared. Other inline values are left as they are.
func GarbageElement(vm *VM, v *Value) {
	switch {
	case v.Vtype == gdk.TypeStr:
		v.S = ""
		v.Len = 0
	case v.Vtype == gdk.TypeBat:
		// All references the language layer holds are logical; physical
		// pins belong to in-flight kernel operations only.
		bid := v.B
		v.B = 0
		if bid == 0 {
			return
		}
		if vm.Kernel.Pool.LogicalRefs(bid) <= 0 {
			return
		}
		vm.Kernel.Pool.DecRef(bid, true)
	case vm.Kernel.Atoms.IsExternal(v.Vtype):
		vm.Kernel.Atoms.Release(v)
	}
}

// GarbageCollector releases every cleanup-flagged slot of the frame. With
// full unset only compiler temporaries are swept, preserving named slots
// of global frames and suspended factories. Swept slots become int nil.
func GarbageCollector(vm *VM, mb *MalBlk, stk *MalStk, full bool) {
	for k := 0; k < mb.VTop() && k < len(stk.Stk); k++ {
		v := mb.Vars[k]
		if v.Flags&VarCleanup == 0 {
			continue
		}
		if !full && !v.IsTmp() {
			continue
		}
		GarbageElement(vm, &stk.Stk[k])
		stk.Stk[k] = Value{Vtype: gdk.TypeInt, I: gdk.IntNil}
	}
	log.Trace("garbage collected frame", "fcn", blockName(mb), "full", full)
}

// ClearStack releases every slot regardless of flags; used when a session
// or plant is torn down.
func ClearStack(vm *VM, stk *MalStk) {
	if stk == nil {
		return
	}
	mbv := 0
	if stk.Blk != nil {
		mbv = stk.Blk.VTop()
	}
	for i := 0; i < len(stk.Stk) && (mbv == 0 || i < mbv); i++ {
		GarbageElement(vm, &stk.Stk[i])
	}
	stk.StkBot = 0
}

// ReleaseBAT purges every reference to bid from the frame and its parents,
// dropping the logical references held by the purged slots.
func ReleaseBAT(vm *VM, mb *MalBlk, stk *MalStk, bid gdk.BatID) {
	for stk != nil {
		for k := 0; k < mb.VTop() && k < len(stk.Stk); k++ {
			if stk.Stk[k].Vtype == gdk.TypeBat && stk.Stk[k].B == bid {
				stk.Stk[k].B = 0
				vm.Kernel.Pool.DecRef(bid, true)
			}
		}
		stk = stk.Up
		if stk == nil || stk.Blk == nil {
			return
		}
		mb = stk.Blk
	}
}

func blockName(mb *MalBlk) string {
	if mb == nil {
		return "?"
	}
	m, f := mb.ModFcnNames()
	return m + "." + f
}
