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
	"reflect"
	"testing"

	"github.com/monetvm/go-mal/gdk"
)

func TestPushInstructionRoundTrip(t *testing.T) {
	vm := newTestVM()
	mb := NewMalBlk()
	sig := NewInstruction(FunctionToken)
	sig.ModName = vm.Namespace.PutName("user")
	sig.FcnName = vm.Namespace.PutName("main")
	if err := mb.PushInstruction(sig); err != nil {
		t.Fatalf("PushInstruction: %v", err)
	}
	x := mb.NewVariable("x", gdk.TypeInt)
	y := mb.NewVariable("y", gdk.TypeInt)
	p := NewInstruction(AssignToken)
	p.Retc = 1
	p.Argv = []int{x, y}
	want := p.clone()
	if err := mb.PushInstruction(p); err != nil {
		t.Fatalf("PushInstruction: %v", err)
	}
	got := mb.GetInstrPtr(1)
	if got.Token != want.Token || got.Retc != want.Retc || !reflect.DeepEqual(got.Argv, want.Argv) {
		t.Errorf("retrieved instruction differs: %+v vs %+v", got, want)
	}
}

func TestFreezeSealsBlock(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	b.End()
	mb, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if !mb.Frozen() {
		t.Error("block not sealed")
	}
	if err := mb.PushInstruction(NewInstruction(NoopToken)); err == nil {
		t.Error("push on frozen block succeeded")
	}
}

func TestFreezeRequiresEnd(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	b.Assign([]int{b.Var("x", gdk.TypeInt)}, []int{b.Const(gdk.IntValue(1))})
	if _, err := b.Freeze(); err == nil {
		t.Error("block without end was frozen")
	}
}

func TestFreezeCompilesJumpTargets(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	c := b.Var("c", gdk.TypeBit)
	cTrue := b.Const(gdk.BitValue(true))

	b.Assign([]int{c}, []int{cTrue}) // pc 1
	bar := b.Barrier(c)              // pc 2
	lv := b.Leave(c)                 // pc 3
	rd := b.Redo(c)                  // pc 4
	ex := b.Exit(c)                  // pc 5
	b.End()                          // pc 6
	if _, err := b.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if bar.Jump != 5 {
		t.Errorf("barrier jump = %d; want 5 (the exit)", bar.Jump)
	}
	if lv.Jump != 5 {
		t.Errorf("leave jump = %d; want 5", lv.Jump)
	}
	if rd.Jump != 2 {
		t.Errorf("redo jump = %d; want 2 (the barrier)", rd.Jump)
	}
	if ex.Jump != 2 {
		t.Errorf("exit back-jump = %d; want 2", ex.Jump)
	}
}

func TestFreezeNestedRegions(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	outer := b.Var("outer", gdk.TypeBit)
	inner := b.Var("inner", gdk.TypeBit)
	bo := b.Barrier(outer) // pc 1
	bi := b.Barrier(inner) // pc 2
	b.Exit(inner)          // pc 3
	b.Exit(outer)          // pc 4
	b.End()
	if _, err := b.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if bi.Jump != 3 || bo.Jump != 4 {
		t.Errorf("nested jumps: inner=%d outer=%d; want 3, 4", bi.Jump, bo.Jump)
	}
}

func TestFreezeRejectsMismatchedExit(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	c := b.Var("c", gdk.TypeBit)
	d := b.Var("d", gdk.TypeBit)
	b.Barrier(c)
	b.Exit(d)
	b.End()
	if _, err := b.Freeze(); err == nil {
		t.Error("mismatched exit was accepted")
	}
}

func TestFreezeRejectsUnclosedBarrier(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	b.Barrier(b.Var("c", gdk.TypeBit))
	b.End()
	if _, err := b.Freeze(); err == nil {
		t.Error("unclosed barrier was accepted")
	}
}

func TestFreezeRejectsStrayLeave(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	b.Leave(b.Var("c", gdk.TypeBit))
	b.End()
	if _, err := b.Freeze(); err == nil {
		t.Error("leave outside a barrier was accepted")
	}
}

func TestFreezeRejectsStrayExit(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	b.Exit(b.Var("c", gdk.TypeBit))
	b.End()
	if _, err := b.Freeze(); err == nil {
		t.Error("exit without barrier was accepted")
	}
}

func TestFreezeComputesEndOfLife(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	x := b.Var("x", gdk.TypeInt)
	y := b.Var("y", gdk.TypeInt)
	z := b.Var("z", gdk.TypeInt)
	cst := b.Const(gdk.IntValue(1))
	b.Assign([]int{x}, []int{cst}) // pc 1
	b.Assign([]int{y}, []int{x})   // pc 2: last read of x
	b.Assign([]int{z}, []int{y})   // pc 3
	b.End()
	mb, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if mb.Vars[x].EOL != 2 {
		t.Errorf("EOL(x) = %d; want 2", mb.Vars[x].EOL)
	}
	if mb.Vars[y].EOL != 3 {
		t.Errorf("EOL(y) = %d; want 3", mb.Vars[y].EOL)
	}
}

func TestFreezeCleanupFlags(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	s := b.Var("s", gdk.TypeStr)
	bt := b.Var("b", gdk.TypeBat)
	n := b.Var("n", gdk.TypeInt)
	b.Assign([]int{s}, []int{b.Const(gdk.StrValue("x"))})
	b.Assign([]int{bt}, []int{bt})
	b.Assign([]int{n}, []int{b.Const(gdk.IntValue(0))})
	b.End()
	mb, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if mb.Vars[s].Flags&VarCleanup == 0 || mb.Vars[bt].Flags&VarCleanup == 0 {
		t.Error("str/bat variables not flagged for cleanup")
	}
	if mb.Vars[n].Flags&VarCleanup != 0 {
		t.Error("int variable flagged for cleanup")
	}
	if !mb.GarbageControl() {
		t.Error("block with cleanup variables has no garbage control")
	}
}

func TestMaxArgComputed(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	x := b.Var("x", gdk.TypeInt)
	b.Assign([]int{x, x, x}, []int{x, x, x})
	b.End()
	mb, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if mb.MaxArg != 6 {
		t.Errorf("MaxArg = %d; want 6", mb.MaxArg)
	}
}

func TestListingRendersInstructions(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	x := b.Var("x", gdk.TypeInt)
	b.Assign([]int{x}, []int{b.Const(gdk.IntValue(1))})
	b.End()
	mb, _ := b.Freeze()
	if mb.Listing() == "" {
		t.Error("empty listing")
	}
}
