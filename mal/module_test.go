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
	"testing"

	"github.com/monetvm/go-mal/gdk"
)

func newTestVM() *VM {
	cfg := DefaultConfig
	return NewVM(cfg)
}

func TestModuleTreeLookup(t *testing.T) {
	vm := newTestVM()
	m := vm.NewModule("algebra")
	if vm.FindModule("algebra") != m {
		t.Error("FindModule missed a created module")
	}
	if vm.FixModule("algebra") != m {
		t.Error("FixModule duplicated an existing module")
	}
	if vm.FindModule("nosuch") != nil {
		t.Error("FindModule invented a module")
	}
}

func TestModuleJumpTable(t *testing.T) {
	vm := newTestVM()
	m := vm.NewModule("group")
	if vm.scopeJump['g']['r'] != m {
		t.Error("jump table not primed on creation")
	}
}

func TestSymbolInsertFindDelete(t *testing.T) {
	vm := newTestVM()
	m := vm.NewModule("aggr")
	mb, sig := vm.newSignature("aggr", "sum", CommandToken, false,
		[]gdk.Type{gdk.TypeLng}, []gdk.Type{gdk.TypeBat})
	sig.Cmd = func(args []*Value) error { return nil }
	s := &Symbol{Name: sig.FcnName, Def: mb}
	m.InsertSymbol(s)
	if m.FindSymbolInModule(vm.Namespace.PutName("sum")) != s {
		t.Error("inserted symbol not found")
	}
	m.DeleteSymbol(s)
	if m.FindSymbolInModule(vm.Namespace.PutName("sum")) != nil {
		t.Error("deleted symbol still found")
	}
}

// registerAddInt publishes calc.+ overloads for int and lng.
func registerAddInt(t *testing.T, vm *VM) {
	t.Helper()
	add := func(args []*Value) error {
		*args[0] = Value{Vtype: args[1].Vtype, I: args[1].I + args[2].I}
		return nil
	}
	for _, tt := range []gdk.Type{gdk.TypeInt, gdk.TypeLng} {
		if err := vm.RegisterCommand("calc", "+", add,
			[]gdk.Type{tt}, []gdk.Type{tt, tt}); err != nil {
			t.Fatalf("RegisterCommand: %v", err)
		}
	}
}

func TestOverloadResolutionByType(t *testing.T) {
	vm := newTestVM()
	registerAddInt(t, vm)

	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	r := b.Var("r", gdk.TypeLng)
	x := b.Const(gdk.LngValue(1))
	y := b.Const(gdk.LngValue(2))
	p := b.Call([]int{r}, "calc", "+", x, y)
	b.End()
	if _, err := b.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if p.Token != CmdCallToken || p.Cmd == nil {
		t.Errorf("resolution failed: token=%v cmd=%v", p.Token, p.Cmd)
	}
}

func TestMissingModuleException(t *testing.T) {
	vm := newTestVM()
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	r := b.Var("r", gdk.TypeInt)
	b.Call([]int{r}, "nomodule", "f", r)
	b.End()
	_, err := b.Freeze()
	if err == nil || !strings.Contains(err.Error(), "TypeException") {
		t.Errorf("missing module: %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "nomodule") {
		t.Errorf("exception does not name the module: %v", err)
	}
}

func TestMissingFunctionException(t *testing.T) {
	vm := newTestVM()
	vm.NewModule("calc")
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	r := b.Var("r", gdk.TypeInt)
	b.Call([]int{r}, "calc", "ghost", r)
	b.End()
	_, err := b.Freeze()
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Errorf("missing function: %v", err)
	}
}

func TestNoMatchingOverload(t *testing.T) {
	vm := newTestVM()
	registerAddInt(t, vm)
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	r := b.Var("r", gdk.TypeStr)
	x := b.Const(gdk.StrValue("a"))
	y := b.Const(gdk.StrValue("b"))
	b.Call([]int{r}, "calc", "+", x, y)
	b.End()
	if _, err := b.Freeze(); err == nil {
		t.Error("string overload of calc.+ resolved unexpectedly")
	}
}

func TestPolymorphicBinding(t *testing.T) {
	vm := newTestVM()
	// identity: any_1 -> any_1
	err := vm.RegisterCommand("mal", "identity", func(args []*Value) error {
		*args[0] = *args[1]
		return nil
	}, []gdk.Type{gdk.AnyN(1)}, []gdk.Type{gdk.AnyN(1)})
	if err != nil {
		t.Fatalf("RegisterCommand: %v", err)
	}
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	r := b.Var("r", gdk.TypeAny)
	x := b.Const(gdk.IntValue(3))
	b.Call([]int{r}, "mal", "identity", x)
	b.End()
	mb, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if got := mb.Vars[r].Type; got != gdk.TypeInt {
		t.Errorf("polymorphic return not bound: %v", got)
	}
}

func TestVariadicArity(t *testing.T) {
	vm := newTestVM()
	err := vm.RegisterPattern("io", "print", func(cntxt *Client, mb *MalBlk, stk *MalStk, pci *InstrRecord) error {
		return nil
	}, true, []gdk.Type{gdk.TypeVoid}, []gdk.Type{gdk.TypeAny})
	if err != nil {
		t.Fatalf("RegisterPattern: %v", err)
	}
	b := vm.NewBlockBuilder("user", "main", FunctionToken)
	v := b.Var("v", gdk.TypeVoid)
	x := b.Const(gdk.IntValue(1))
	y := b.Const(gdk.StrValue("two"))
	z := b.Const(gdk.BitValue(true))
	b.Call([]int{v}, "io", "print", x, y, z)
	b.End()
	if _, err := b.Freeze(); err != nil {
		t.Errorf("variadic call did not resolve: %v", err)
	}
}

func TestCommandArityCap(t *testing.T) {
	vm := newTestVM()
	args := make([]gdk.Type, MaxCommandArgs+1)
	for i := range args {
		args[i] = gdk.TypeInt
	}
	err := vm.RegisterCommand("wide", "f", func([]*Value) error { return nil },
		[]gdk.Type{gdk.TypeInt}, args)
	if err == nil || !strings.Contains(err.Error(), "TypeException") {
		t.Errorf("oversized command accepted: %v", err)
	}
}
