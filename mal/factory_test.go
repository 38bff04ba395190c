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
	"testing"

	"github.com/monetvm/go-mal/gdk"
)

// registerCounter publishes the counter factory used across these tests:
//
//	factory user.counter(seed:int):int;
//	    s := seed;
//	barrier always := true;
//	    yield s;
//	    s := calc.+(s, 1);
//	    redo always;
//	exit always;
//	end counter;
func registerCounter(t *testing.T, vm *VM) *MalBlk {
	t.Helper()
	b := vm.NewBlockBuilder("user", "counter", FactoryToken)
	b.Ret("result", gdk.TypeInt)
	seed := b.Param("seed", gdk.TypeInt)
	s := b.Var("s", gdk.TypeInt)
	always := b.Var("always", gdk.TypeBit)
	one := b.Const(gdk.IntValue(1))

	b.Assign([]int{s}, []int{seed})
	b.BarrierAssign(always, b.Const(gdk.BitValue(true)))
	b.Yield(s)
	b.Call([]int{s}, "calc", "+", s, one)
	b.Redo(always)
	b.Exit(always)
	b.End()
	mb, err := b.Register()
	if err != nil {
		t.Fatalf("register counter: %v", err)
	}
	return mb
}

// callerBlock builds a block with n consecutive counter calls, returning
// the result slot of each call.
func callerBlock(vm *VM, n int) (*BlockBuilder, []int) {
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	seed := b.Const(gdk.IntValue(10))
	rs := make([]int, n)
	for i := range rs {
		rs[i] = b.Var("", gdk.TypeInt)
		b.Call([]int{rs[i]}, "user", "counter", seed)
	}
	b.End()
	return b, rs
}

// Four consecutive calls with seed 10 deliver 10, 11, 12, 13: the plant
// resumes after the last yield and every non-parameter slot keeps its
// post-yield value.
func TestFactoryCounter(t *testing.T) {
	vm := newExecVM(t)
	registerCounter(t, vm)
	b, rs := callerBlock(vm, 4)
	_, stk, err := runBlock(t, vm, b)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, want := range []int64{10, 11, 12, 13} {
		if got := stk.Stk[rs[i]].I; got != want {
			t.Errorf("call %d = %d; want %d", i+1, got, want)
		}
	}
}

func TestFactoryPlantPersistsAcrossTopLevelCalls(t *testing.T) {
	vm := newExecVM(t)
	fac := registerCounter(t, vm)
	cntxt := vm.NewClient(nil)

	for i, want := range []int64{10, 11, 12} {
		b := vm.NewBlockBuilder("user", "step", FunctionToken)
		r := b.Var("r", gdk.TypeInt)
		b.Call([]int{r}, "user", "counter", b.Const(gdk.IntValue(10)))
		b.End()
		mb, err := b.Freeze()
		if err != nil {
			t.Fatalf("freeze: %v", err)
		}
		stk := PrepareMALstack(vm, mb, mb.VTop())
		stk.KeepAlive = true
		if err := RunMAL(cntxt, mb, nil, stk); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
		if got := stk.Stk[r].I; got != want {
			t.Errorf("call %d = %d; want %d", i+1, got, want)
		}
	}
	if _, _, ok := vm.PlantInfo(fac); !ok {
		t.Error("plant vanished between calls")
	}
}

// A factory whose body returns tears its plant down; the next call
// re-creates a plant and starts fresh from pc 1.
func TestFactoryReturnResetsPlant(t *testing.T) {
	vm := newExecVM(t)
	b := vm.NewBlockBuilder("user", "once", FactoryToken)
	r := b.Ret("r", gdk.TypeInt)
	x := b.Param("x", gdk.TypeInt)
	one := b.Const(gdk.IntValue(1))
	b.Assign([]int{r}, []int{x})
	b.Yield(r) // first call delivers x
	b.Call([]int{r}, "calc", "+", r, one)
	b.Return(r) // second call delivers x+1, then shuts down
	b.End()
	fac, err := b.Register()
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	caller := func(arg int64) int64 {
		cb := vm.NewBlockBuilder("user", "main", FunctionToken)
		cr := cb.Var("r", gdk.TypeInt)
		cb.Call([]int{cr}, "user", "once", cb.Const(gdk.IntValue(arg)))
		cb.End()
		_, stk, err := runBlock(t, vm, cb)
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		return stk.Stk[cr].I
	}

	if got := caller(5); got != 5 {
		t.Fatalf("first call = %d; want 5", got)
	}
	if got := caller(5); got != 6 {
		t.Fatalf("second call = %d; want 6", got)
	}
	if _, _, ok := vm.PlantInfo(fac); ok {
		t.Error("plant survived the factory return")
	}
	// fresh plant, fresh state
	if got := caller(20); got != 20 {
		t.Errorf("post-return call = %d; want 20 (fresh from pc 1)", got)
	}
}

func TestFactoryVariadicLastFormal(t *testing.T) {
	vm := newExecVM(t)
	b := vm.NewBlockBuilder("user", "last", FactoryToken)
	r := b.Ret("r", gdk.TypeInt)
	x := b.Param("x", gdk.TypeInt)
	b.Variadic()
	b.Assign([]int{r}, []int{x})
	b.Yield(r)
	b.Return(r)
	b.End()
	if _, err := b.Register(); err != nil {
		t.Fatalf("register: %v", err)
	}

	cb := vm.NewBlockBuilder("user", "main", FunctionToken)
	cr := cb.Var("r", gdk.TypeInt)
	cb.Call([]int{cr}, "user", "last",
		cb.Const(gdk.IntValue(1)), cb.Const(gdk.IntValue(2)), cb.Const(gdk.IntValue(3)))
	cb.End()
	_, stk, err := runBlock(t, vm, cb)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// extras collapse onto the final formal; the last one wins
	if stk.Stk[cr].I != 3 {
		t.Errorf("variadic slot = %d; want 3", stk.Stk[cr].I)
	}
}

func TestCallFactoryArgumentVector(t *testing.T) {
	vm := newExecVM(t)
	fac := registerCounter(t, vm)
	cntxt := vm.NewClient(nil)

	seed := gdk.IntValue(100)
	if err := CallFactory(cntxt, fac, []*Value{nil, &seed}, 0); err != nil {
		t.Fatalf("CallFactory: %v", err)
	}
	if _, pc, ok := vm.PlantInfo(fac); !ok || pc <= 1 {
		t.Errorf("plant not suspended past its yield: pc=%d ok=%v", pc, ok)
	}
}

func TestShutdownFactoryByName(t *testing.T) {
	vm := newExecVM(t)
	fac := registerCounter(t, vm)
	cntxt := vm.NewClient(nil)

	b, _ := callerBlock(vm, 1)
	if _, _, err := runBlock(t, vm, b); err != nil {
		t.Fatalf("prime the plant: %v", err)
	}
	if _, _, ok := vm.PlantInfo(fac); !ok {
		t.Fatal("no plant after priming")
	}
	m := vm.FindModule("user")
	if err := vm.ShutdownFactoryByName(cntxt, m, "counter"); err != nil {
		t.Fatalf("ShutdownFactoryByName: %v", err)
	}
	if _, _, ok := vm.PlantInfo(fac); ok {
		t.Error("plant survived shutdown by name")
	}
	if m.FindSymbolInModule(vm.Namespace.PutName("counter")) != nil {
		t.Error("symbol survived shutdown by name")
	}
}

func TestFactoryPlantTableBound(t *testing.T) {
	vm := newExecVM(t)
	if !vm.HasFreeSpace() {
		t.Error("fresh VM reports a full plant table")
	}
}
