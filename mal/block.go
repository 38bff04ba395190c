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
	"fmt"
	"strings"

	"github.com/monetvm/go-mal/gdk"
)

// Value is the stack slot record; an alias of the kernel value type.
type Value = gdk.Value

// VarFlag is the per-variable flag vector.
type VarFlag uint8

const (
	// VarConstant marks a variable whose value comes from the constant pool.
	VarConstant VarFlag = 1 << iota
	// VarDisabled suppresses constant initialisation (dead code elimination).
	VarDisabled
	// VarCleanup schedules the slot for release on block exit.
	VarCleanup
	// VarFixed pins the declared type against polymorphic rebinding.
	VarFixed
	// VarUDF marks a user-defined atom type.
	VarUDF
)

// tmpMarker prefixes compiler-generated temporary variables; a partial
// garbage-collection sweep only touches those.
const tmpMarker = "X_"

// VarRecord describes one named slot of a MAL block.
type VarRecord struct {
	Name  string
	Type  gdk.Type
	Flags VarFlag
	Value Value // constant value when VarConstant is set
	EOL   int   // pc of the last read; computed during freeze
}

// IsTmp reports whether the variable is a compiler temporary.
func (v *VarRecord) IsTmp() bool { return strings.HasPrefix(v.Name, tmpMarker) }

// MalBlk is a frozen sequence of typed instructions together with its
// variable table and constant pool. Index 0 holds the signature: Retc
// declared results, Argc-Retc declared parameters.
type MalBlk struct {
	Stmt []*InstrRecord
	Vars []*VarRecord

	Stop   int // first pc past the executable range
	Errors bool
	MaxArg int

	frozen bool
	runGC  bool // any variable needs cleanup on exit
}

// NewMalBlk creates an empty, unfrozen block.
func NewMalBlk() *MalBlk {
	return &MalBlk{}
}

// VTop reports the number of variables.
func (mb *MalBlk) VTop() int { return len(mb.Vars) }

// GetInstrPtr returns the instruction at pc.
func (mb *MalBlk) GetInstrPtr(pc int) *InstrRecord { return mb.Stmt[pc] }

// Signature returns the instruction at index 0.
func (mb *MalBlk) Signature() *InstrRecord {
	if len(mb.Stmt) == 0 {
		return nil
	}
	return mb.Stmt[0]
}

// ModFcnNames returns the module and function name of the signature.
func (mb *MalBlk) ModFcnNames() (string, string) {
	sig := mb.Signature()
	if sig == nil {
		return "", ""
	}
	return sig.ModName, sig.FcnName
}

// IsFactory reports whether the block defines a factory.
func (mb *MalBlk) IsFactory() bool {
	sig := mb.Signature()
	return sig != nil && sig.Token == FactoryToken
}

// NewVariable appends a named slot of the given type and returns its index.
func (mb *MalBlk) NewVariable(name string, t gdk.Type) int {
	if name == "" {
		name = fmt.Sprintf("%s%d", tmpMarker, len(mb.Vars))
	}
	mb.Vars = append(mb.Vars, &VarRecord{Name: name, Type: t, EOL: -1})
	return len(mb.Vars) - 1
}

// NewTmpVariable appends an anonymous temporary of the given type.
func (mb *MalBlk) NewTmpVariable(t gdk.Type) int {
	return mb.NewVariable("", t)
}

// NewConstant appends a constant-pool entry and returns its variable index.
func (mb *MalBlk) NewConstant(v Value) int {
	i := mb.NewVariable("", v.Vtype)
	mb.Vars[i].Flags |= VarConstant
	mb.Vars[i].Value = v
	return i
}

// FindVariable resolves a variable name to its index, -1 when absent.
func (mb *MalBlk) FindVariable(name string) int {
	for i, v := range mb.Vars {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// Var returns the record of variable i.
func (mb *MalBlk) Var(i int) *VarRecord { return mb.Vars[i] }

// PushInstruction appends p to the block. The block must not be frozen.
func (mb *MalBlk) PushInstruction(p *InstrRecord) error {
	if mb.frozen {
		return CreateException(KindMAL, "mal.block", "push on frozen block")
	}
	mb.Stmt = append(mb.Stmt, p)
	return nil
}

// SetJumpTarget overrides the compiled jump target of the instruction at
// pc; block transformers use it after reordering.
func (mb *MalBlk) SetJumpTarget(pc, target int) {
	mb.Stmt[pc].Jump = target
}

// openBlock tracks one unclosed barrier or catch region during freezing.
type openBlock struct {
	pc      int
	ctrl    int   // control variable index
	pending []int // leave/redo pcs waiting for the matching exit
}

// Freeze verifies the structured control flow, compiles it to explicit
// jump targets, computes end-of-life counters and cleanup flags, and seals
// the block against further pushes.
//
// Jump conventions (consumed by the interpreter):
//
//	barrier b ... exit e   b.Jump = e; control false/nil skips past e
//	leave l                l.Jump = e of the innermost region naming l's
//	                       control variable
//	redo r                 r.Jump = b of that region
//	catch c ... exit e     c.Jump = e; skipped unless routing an exception
//
// Control cannot enter a barrier region except at its top, nor a catch
// region except through exception routing; the single entry point is a
// direct consequence of the jump compilation above.
func (mb *MalBlk) Freeze(vm *VM) error {
	if mb.frozen {
		return nil
	}
	if len(mb.Stmt) == 0 {
		mb.Errors = true
		return CreateException(KindSyntax, "mal.block", "empty block")
	}
	if mb.Stmt[len(mb.Stmt)-1].Token != EndToken {
		mb.Errors = true
		return CreateException(KindSyntax, "mal.block", "block does not end with end")
	}

	var open []*openBlock
	for pc := 1; pc < len(mb.Stmt); pc++ {
		p := mb.Stmt[pc]
		switch p.Barrier {
		case BarrierSymbol, CatchSymbol:
			open = append(open, &openBlock{pc: pc, ctrl: p.DestVar()})
		case LeaveSymbol, RedoSymbol:
			blk := findOpen(open, p.DestVar())
			if blk == nil {
				mb.Errors = true
				return CreateScriptException(mb, pc, KindSyntax, nil,
					"%s outside barrier naming %s", p.Barrier, mb.varName(p.DestVar()))
			}
			if p.Barrier == RedoSymbol {
				p.Jump = blk.pc
			} else {
				blk.pending = append(blk.pending, pc)
			}
		case ExitSymbol:
			if len(open) == 0 {
				mb.Errors = true
				return CreateScriptException(mb, pc, KindSyntax, nil, "exit without barrier")
			}
			blk := open[len(open)-1]
			open = open[:len(open)-1]
			if blk.ctrl != p.DestVar() {
				mb.Errors = true
				return CreateScriptException(mb, pc, KindSyntax, nil,
					"exit control variable %s does not close %s",
					mb.varName(p.DestVar()), mb.varName(blk.ctrl))
			}
			mb.Stmt[blk.pc].Jump = pc
			p.Jump = blk.pc
			for _, l := range blk.pending {
				mb.Stmt[l].Jump = pc
			}
		}
	}
	if len(open) > 0 {
		mb.Errors = true
		return CreateScriptException(mb, open[len(open)-1].pc, KindSyntax, nil,
			"barrier %s not closed", mb.varName(open[len(open)-1].ctrl))
	}

	// end-of-life accounting and per-block bookkeeping
	for _, v := range mb.Vars {
		v.EOL = -1
	}
	mb.MaxArg = 0
	for pc, p := range mb.Stmt {
		if p.Argc() > mb.MaxArg {
			mb.MaxArg = p.Argc()
		}
		for _, a := range p.Argv {
			mb.Vars[a].EOL = pc
		}
	}
	for _, v := range mb.Vars {
		if needsCleanup(vm, v.Type) {
			v.Flags |= VarCleanup
			mb.runGC = true
		}
	}

	// resolve call targets left open by the builder
	if vm != nil {
		for pc := 1; pc < len(mb.Stmt); pc++ {
			p := mb.Stmt[pc]
			if p.ModName == "" || p.Cmd != nil || p.Pat != nil || p.Blk != nil {
				continue
			}
			if err := vm.resolveCall(mb, pc, p); err != nil {
				mb.Errors = true
				return err
			}
		}
	}

	mb.Stop = len(mb.Stmt)
	mb.frozen = true
	return nil
}

func findOpen(open []*openBlock, ctrl int) *openBlock {
	for i := len(open) - 1; i >= 0; i-- {
		if open[i].ctrl == ctrl {
			return open[i]
		}
	}
	return nil
}

func (mb *MalBlk) varName(i int) string {
	if i < 0 || i >= len(mb.Vars) {
		return "?"
	}
	return mb.Vars[i].Name
}

// needsCleanup reports whether slots of type t own releasable payloads.
func needsCleanup(vm *VM, t gdk.Type) bool {
	if t == gdk.TypeBat || t == gdk.TypeStr {
		return true
	}
	if vm != nil {
		return vm.Kernel.Atoms.IsExternal(t)
	}
	return false
}

// Frozen reports whether the block has been sealed.
func (mb *MalBlk) Frozen() bool { return mb.frozen }

// GarbageControl reports whether the per-instruction garbage discipline
// applies to this block.
func (mb *MalBlk) GarbageControl() bool { return mb.runGC }

// Listing renders the block in MAL surface style, one instruction per line.
func (mb *MalBlk) Listing() string {
	var b strings.Builder
	for pc, p := range mb.Stmt {
		fmt.Fprintf(&b, "[%3d] %s\n", pc, p.String())
	}
	return b.String()
}
