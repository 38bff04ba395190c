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

// Factories are ordinary functions whose frame persists across calls and
// that may pause at yield, resuming on the next call. The first call to a
// factory creates a plant: the persistent stack frame plus the resume
// program counter. The default policy instantiates one shared plant per
// factory block; re-entry resumes at the instruction after the last yield,
// and a return tears the plant down so that the next call starts fresh.

package mal

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/monetvm/go-mal/gdk"
)

// MaxPlants bounds the process-wide plant table.
const MaxPlants = 256

// plantRecord is a persistent frame bound to a factory block, together
// with the caller context of the dispatch in flight.
type plantRecord struct {
	id      int
	factory *MalBlk
	stk     *MalStk
	pc      int // resume point
	inuse   bool

	// caller context, valid only for the duration of one dispatch
	client *Client
	caller *MalBlk
	env    *MalStk
	pci    *InstrRecord

	mu sync.Mutex // serialises dispatches into this plant
}

// plantTable is the central plant manager; lookups serialise concurrent
// invocations of the same factory.
type plantTable struct {
	mu     sync.Mutex
	plants []*plantRecord
	nextID int
}

// lookup finds the plant of mb, moving it one slot towards the front to
// cheapen the next probe.
func (t *plantTable) lookup(mb *MalBlk) *plantRecord {
	for i, pl := range t.plants {
		if pl.factory == mb {
			if i > 0 {
				t.plants[i-1], t.plants[i] = t.plants[i], t.plants[i-1]
			}
			return pl
		}
	}
	return nil
}

// newPlant compacts the table and allocates a plant with a fresh
// persistent frame; nil when the table is full.
func (t *plantTable) newPlant(mb *MalBlk) *plantRecord {
	live := t.plants[:0]
	for _, pl := range t.plants {
		if pl.inuse || pl.factory != nil {
			live = append(live, pl)
		}
	}
	t.plants = live
	if len(t.plants) >= MaxPlants {
		return nil
	}
	t.nextID++
	pl := &plantRecord{
		id:      t.nextID,
		factory: mb,
		pc:      1, // where we start
		stk:     NewGlobalStack(mb.VTop()),
	}
	pl.stk.Blk = mb
	pl.stk.StkTop = mb.VTop()
	pl.stk.KeepAlive = true
	t.plants = append(t.plants, pl)
	return pl
}

// HasFreeSpace reports whether another plant can be allocated.
func (vm *VM) HasFreeSpace() bool {
	vm.plants.mu.Lock()
	defer vm.plants.mu.Unlock()
	return len(vm.plants.plants) < MaxPlants-1
}

// RunFactory dispatches a factory call: the plant is looked up or created,
// the actual arguments are copied onto its parameter slots, and execution
// enters at pc 1 on the first call or at the recorded resume point
// otherwise. Only the dispatching thread touches the plant frame.
func RunFactory(cntxt *Client, mb, mbcaller *MalBlk, stk *MalStk, pci *InstrRecord) error {
	vm := cntxt.vm
	psig := mb.Signature()

	var pl *plantRecord
	var firstcall bool
	for {
		vm.plants.mu.Lock()
		pl = vm.plants.lookup(mb)
		firstcall = pl == nil
		if firstcall {
			pl = vm.plants.newPlant(mb)
			if pl == nil {
				vm.plants.mu.Unlock()
				return M5OutOfMemory
			}
		}
		vm.plants.mu.Unlock()
		// serialise concurrent invocations at the plant; the table lock is
		// dropped first so a dispatch reaching its return can clear the
		// plant without deadlocking against this lookup
		pl.mu.Lock()
		if firstcall || pl.factory == mb {
			break
		}
		pl.mu.Unlock() // plant was torn down underneath us, retry
	}
	defer pl.mu.Unlock()

	// remember the caller context for result delivery at yield
	pl.client = cntxt
	pl.caller = mbcaller
	pl.env = stk
	pl.pci = pci
	pl.inuse = true

	if pl.stk == nil {
		return CreateException(KindMAL, "factory.new", "stack frame missing")
	}

	// copy the calling arguments onto the plant's parameter slots; the
	// final formal may be variadic, reusing the last slot
	k := psig.Retc
	for i := pci.Retc; i < pci.Argc(); i++ {
		if k >= psig.Argc() {
			k = psig.Argc() - 1
		}
		lhs := &pl.stk.Stk[psig.Argv[k]]
		rhs := &stk.Stk[pci.Argv[i]]
		if err := gdk.ValCopy(vm.Kernel.Atoms, lhs, rhs); err != nil {
			return CreateException(KindMAL, "factory.call", "%s", err)
		}
		if lhs.Vtype == gdk.TypeBat && lhs.B != 0 {
			vm.Kernel.Pool.IncRef(lhs.B, true)
		}
		if k != psig.Argc()-1 || !psig.Variadic {
			k++
		}
	}
	if mb.Errors {
		return CreateException(KindMAL, "factory.call", "factory defined with errors")
	}

	if firstcall {
		// initialise the non-parameter slots the way a regular frame would
		for i := psig.Argc(); i < mb.VTop(); i++ {
			v := mb.Vars[i]
			lhs := &pl.stk.Stk[i]
			if v.Flags&VarConstant != 0 {
				if v.Flags&VarDisabled == 0 {
					_ = gdk.ValCopy(vm.Kernel.Atoms, lhs, &v.Value)
				}
			} else {
				*lhs = vm.Kernel.Atoms.Null(v.Type)
			}
		}
		pl.stk.StkBot = mb.VTop() // stack already initialised
		return RunMAL(cntxt, mb, mbcaller, pl.stk)
	}
	return ReenterMAL(cntxt, mb, pl.pc, -1, pl.stk)
}

// CallFactory is the shortcut entry point taking an argument vector; the
// results of the dispatch are left on the plant frame.
func CallFactory(cntxt *Client, mb *MalBlk, argv []*Value, flag byte) error {
	vm := cntxt.vm
	psig := mb.Signature()

	var pl *plantRecord
	var firstcall bool
	for {
		vm.plants.mu.Lock()
		pl = vm.plants.lookup(mb)
		firstcall = pl == nil
		if firstcall {
			pl = vm.plants.newPlant(mb)
			if pl == nil {
				vm.plants.mu.Unlock()
				return M5OutOfMemory
			}
		}
		vm.plants.mu.Unlock()
		pl.mu.Lock()
		if firstcall || pl.factory == mb {
			break
		}
		pl.mu.Unlock()
	}
	defer pl.mu.Unlock()

	if firstcall {
		pl.client = cntxt
		pl.inuse = true
		pl.stk.Cmd = flag
		for i := psig.Argc(); i < mb.VTop(); i++ {
			v := mb.Vars[i]
			lhs := &pl.stk.Stk[i]
			if v.Flags&VarConstant != 0 {
				_ = gdk.ValCopy(vm.Kernel.Atoms, lhs, &v.Value)
			} else {
				*lhs = vm.Kernel.Atoms.Null(v.Type)
			}
		}
	} else {
		// release the old arguments to make room for the new ones
		for i := psig.Retc; i < psig.Argc(); i++ {
			lhs := &pl.stk.Stk[psig.Argv[i]]
			if lhs.Vtype == gdk.TypeBat && lhs.B != 0 {
				vm.Kernel.Pool.DecRef(lhs.B, true)
			}
		}
	}

	for i := psig.Retc; i < psig.Argc() && i < len(argv); i++ {
		lhs := &pl.stk.Stk[psig.Argv[i]]
		if err := gdk.ValCopy(vm.Kernel.Atoms, lhs, argv[i]); err != nil {
			return CreateException(KindMAL, "factory.call", "%s", err)
		}
		if lhs.Vtype == gdk.TypeBat && lhs.B != 0 {
			vm.Kernel.Pool.IncRef(lhs.B, true)
		}
	}
	return ReenterMAL(cntxt, mb, pl.pc, -1, pl.stk)
}

// yieldResult copies each return value from the plant frame to the
// caller's frame at the call-site return positions.
func (t *plantTable) yieldResult(vm *VM, mb *MalBlk, p *InstrRecord) (*plantRecord, error) {
	t.mu.Lock()
	pl := t.lookup(mb)
	t.mu.Unlock()
	if pl == nil {
		return nil, CreateException(KindMAL, "factory.yield", "object not found")
	}
	if pl.env == nil || pl.pci == nil {
		return pl, nil
	}
	for i := 0; i < p.Retc && i < pl.pci.Retc; i++ {
		rhs := &pl.stk.Stk[p.Argv[i]]
		lhs := &pl.env.Stk[pl.pci.Argv[i]]
		if err := gdk.ValCopy(vm.Kernel.Atoms, lhs, rhs); err != nil {
			return pl, CreateException(KindMAL, "factory.yield", "%s", err)
		}
		if lhs.Vtype == gdk.TypeBat && lhs.B != 0 {
			vm.Kernel.Pool.IncRef(lhs.B, true)
		}
	}
	return pl, nil
}

// yieldFactory suspends the plant: results are delivered, pc+1 is recorded
// as the resume point, and the caller context is cleared.
func yieldFactory(vm *VM, mb *MalBlk, p *InstrRecord, pc int) error {
	pl, err := vm.plants.yieldResult(vm, mb, p)
	if err != nil {
		return err
	}
	pl.pc = pc + 1
	pl.client = nil
	pl.caller = nil
	pl.pci = nil
	pl.env = nil
	factoryYieldMeter.Mark(1)
	return nil
}

// shutdownFactory clears the plant of mb: the persistent frame is garbage
// collected and freed, and the plant is removed from the table. The next
// call to the factory re-creates a plant and starts fresh from pc 1.
func shutdownFactory(cntxt *Client, mb *MalBlk) error {
	vm := cntxt.vm
	vm.plants.mu.Lock()
	defer vm.plants.mu.Unlock()
	for _, pl := range vm.plants.plants {
		if pl.factory != mb {
			continue
		}
		pl.factory = nil
		if pl.stk != nil {
			pl.stk.KeepAlive = false
			GarbageCollector(vm, mb, pl.stk, true)
			ClearStack(vm, pl.stk)
			pl.stk = nil
		}
		pl.pc = 0
		pl.inuse = false
		pl.client = nil
		pl.caller = nil
		pl.env = nil
		pl.pci = nil
		factoryShutdownMeter.Mark(1)
		log.Debug("factory plant shut down", "factory", blockName(mb), "plant", pl.id)
	}
	return nil
}

// ShutdownFactoryByName removes the plant and symbol of the factory nme in
// module m.
func (vm *VM) ShutdownFactoryByName(cntxt *Client, m *Module, nme string) error {
	vm.plants.mu.Lock()
	var target *MalBlk
	for _, pl := range vm.plants.plants {
		if pl.factory == nil {
			continue
		}
		if _, f := pl.factory.ModFcnNames(); f == nme {
			target = pl.factory
			break
		}
	}
	vm.plants.mu.Unlock()
	if target == nil {
		return nil
	}
	s := m.FindSymbolInModule(vm.Namespace.PutName(nme))
	if s == nil {
		return CreateException(KindMAL, "factory.remove",
			"operation failed: entry '%s' not found", nme)
	}
	if err := shutdownFactory(cntxt, target); err != nil {
		return err
	}
	m.DeleteSymbol(s)
	return nil
}

// shutdownAll clears every plant; used at VM teardown.
func (t *plantTable) shutdownAll(vm *VM) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pl := range t.plants {
		if pl.stk != nil {
			ClearStack(vm, pl.stk)
			pl.stk = nil
		}
		pl.factory = nil
		pl.inuse = false
	}
	t.plants = nil
}

// PlantInfo reports the plant id and resume pc of the factory mb; ok is
// false when no plant exists. Enquiry surface for factory-aware modules.
func (vm *VM) PlantInfo(mb *MalBlk) (id, pc int, ok bool) {
	vm.plants.mu.Lock()
	defer vm.plants.mu.Unlock()
	if pl := vm.plants.lookup(mb); pl != nil {
		return pl.id, pl.pc, true
	}
	return 0, 0, false
}
