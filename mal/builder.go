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
	"github.com/monetvm/go-mal/gdk"
)

// BlockBuilder is the in-memory construction surface for MAL blocks:
// create a block, push instructions, freeze. Front ends and tests build
// plans through it; there is no textual or on-disk format in the core.
type BlockBuilder struct {
	vm  *VM
	mb  *MalBlk
	sig *InstrRecord
}

// NewBlockBuilder starts a block whose signature is mod.fcn of the given
// definition token (FunctionToken or FactoryToken).
func (vm *VM) NewBlockBuilder(mod, fcn string, token Token) *BlockBuilder {
	mb := NewMalBlk()
	sig := NewInstruction(token)
	sig.ModName = vm.Namespace.PutName(mod)
	sig.FcnName = vm.Namespace.PutName(fcn)
	sig.Retc = 0
	mb.Stmt = append(mb.Stmt, sig)
	return &BlockBuilder{vm: vm, mb: mb, sig: sig}
}

// Block exposes the block under construction.
func (b *BlockBuilder) Block() *MalBlk { return b.mb }

// Ret declares a result of the signature and returns its variable index.
// All results must be declared before the first parameter.
func (b *BlockBuilder) Ret(name string, t gdk.Type) int {
	i := b.mb.NewVariable(name, t)
	b.sig.Argv = append(b.sig.Argv[:b.sig.Retc], append([]int{i}, b.sig.Argv[b.sig.Retc:]...)...)
	b.sig.Retc++
	return i
}

// Param declares a parameter of the signature.
func (b *BlockBuilder) Param(name string, t gdk.Type) int {
	i := b.mb.NewVariable(name, t)
	b.sig.Argv = append(b.sig.Argv, i)
	return i
}

// Variadic marks the last parameter as expanding at call time.
func (b *BlockBuilder) Variadic() { b.sig.Variadic = true }

// Var declares a local variable.
func (b *BlockBuilder) Var(name string, t gdk.Type) int {
	return b.mb.NewVariable(name, t)
}

// Const appends a constant-pool entry.
func (b *BlockBuilder) Const(v Value) int { return b.mb.NewConstant(v) }

// push appends p, tracking the error state on the block.
func (b *BlockBuilder) push(p *InstrRecord) *InstrRecord {
	if err := b.mb.PushInstruction(p); err != nil {
		b.mb.Errors = true
	}
	return p
}

// Assign pushes lhs... := rhs..., the multi-assignment statement.
func (b *BlockBuilder) Assign(lhs, rhs []int) *InstrRecord {
	p := NewInstruction(AssignToken)
	p.Retc = len(lhs)
	p.Argv = append(append([]int{}, lhs...), rhs...)
	return b.push(p)
}

// AssignConst pushes v := const, routing the constant through the pool.
func (b *BlockBuilder) AssignConst(lhs int, c Value) *InstrRecord {
	return b.Assign([]int{lhs}, []int{b.Const(c)})
}

// Call pushes rets... := mod.fcn(args...); the target is resolved during
// freezing.
func (b *BlockBuilder) Call(rets []int, mod, fcn string, args ...int) *InstrRecord {
	p := NewInstruction(FcnCallToken)
	p.ModName = b.vm.Namespace.PutName(mod)
	p.FcnName = b.vm.Namespace.PutName(fcn)
	p.Retc = len(rets)
	p.Argv = append(append([]int{}, rets...), args...)
	return b.push(p)
}

// Barrier opens a region guarded by the control variable ctrl.
func (b *BlockBuilder) Barrier(ctrl int) *InstrRecord {
	p := NewInstruction(NoopToken)
	p.Barrier = BarrierSymbol
	p.Retc = 1
	p.Argv = []int{ctrl}
	return b.push(p)
}

// BarrierAssign opens a region with barrier ctrl := rhs.
func (b *BlockBuilder) BarrierAssign(ctrl, rhs int) *InstrRecord {
	p := NewInstruction(AssignToken)
	p.Barrier = BarrierSymbol
	p.Retc = 1
	p.Argv = []int{ctrl, rhs}
	return b.push(p)
}

// Leave jumps forward to the matching exit when ctrl is truthy.
func (b *BlockBuilder) Leave(ctrl int) *InstrRecord {
	p := NewInstruction(NoopToken)
	p.Barrier = LeaveSymbol
	p.Retc = 1
	p.Argv = []int{ctrl}
	return b.push(p)
}

// Redo jumps back to the matching barrier when ctrl is truthy.
func (b *BlockBuilder) Redo(ctrl int) *InstrRecord {
	p := NewInstruction(NoopToken)
	p.Barrier = RedoSymbol
	p.Retc = 1
	p.Argv = []int{ctrl}
	return b.push(p)
}

// Catch opens an exception region for the named control variables.
func (b *BlockBuilder) Catch(vars ...int) *InstrRecord {
	p := NewInstruction(NoopToken)
	p.Barrier = CatchSymbol
	p.Retc = len(vars)
	p.Argv = append([]int{}, vars...)
	return b.push(p)
}

// Exit closes the innermost region named by ctrl.
func (b *BlockBuilder) Exit(ctrl int) *InstrRecord {
	p := NewInstruction(NoopToken)
	p.Barrier = ExitSymbol
	p.Retc = 1
	p.Argv = []int{ctrl}
	return b.push(p)
}

// Raise pushes raise ctrl := rhs, turning the string into an exception.
func (b *BlockBuilder) Raise(ctrl, rhs int) *InstrRecord {
	p := NewInstruction(AssignToken)
	p.Barrier = RaiseSymbol
	p.Retc = 1
	p.Argv = []int{ctrl, rhs}
	return b.push(p)
}

// Yield suspends the factory, delivering rets to the caller.
func (b *BlockBuilder) Yield(rets ...int) *InstrRecord {
	p := NewInstruction(NoopToken)
	p.Barrier = YieldSymbol
	p.Retc = len(rets)
	p.Argv = append([]int{}, rets...)
	return b.push(p)
}

// YieldAssign pushes yield v := rhs: assign, then suspend delivering v.
func (b *BlockBuilder) YieldAssign(v, rhs int) *InstrRecord {
	p := NewInstruction(AssignToken)
	p.Barrier = YieldSymbol
	p.Retc = 1
	p.Argv = []int{v, rhs}
	return b.push(p)
}

// Return copies rets to the caller and unwinds.
func (b *BlockBuilder) Return(rets ...int) *InstrRecord {
	p := NewInstruction(NoopToken)
	p.Barrier = ReturnSymbol
	p.Retc = len(rets)
	p.Argv = append([]int{}, rets...)
	return b.push(p)
}

// End terminates the block.
func (b *BlockBuilder) End() *InstrRecord {
	return b.push(NewInstruction(EndToken))
}

// Freeze seals the block: control flow verified and compiled, call targets
// resolved, lifetimes computed.
func (b *BlockBuilder) Freeze() (*MalBlk, error) {
	if err := b.mb.Freeze(b.vm); err != nil {
		return nil, err
	}
	return b.mb, nil
}

// Register publishes the block in its module and freezes it. Insertion
// precedes freezing so that recursive definitions resolve against their
// own symbol.
func (b *BlockBuilder) Register() (*MalBlk, error) {
	if err := b.vm.RegisterFunction(b.mb); err != nil {
		return nil, err
	}
	mb, err := b.Freeze()
	if err != nil {
		return nil, err
	}
	return mb, nil
}
