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

// Package calc carries the scalar operator library of the abstract
// machine: arithmetic and comparison commands, the io.print pattern, the
// mal.raise exception generator, and a thin bat module over the buffer
// pool. It doubles as the reference for both callback conventions of the
// interpreter ABI.
package calc

import (
	"errors"
	"fmt"

	"github.com/monetvm/go-mal/gdk"
	"github.com/monetvm/go-mal/mal"
)

type binOp func(a, b int64) (int64, error)

func arith(op binOp) mal.Command {
	return func(args []*gdk.Value) error {
		if args[1].IsNil() || args[2].IsNil() {
			*args[0] = gdk.Value{Vtype: args[1].Vtype, I: nilOf(args[1].Vtype)}
			return nil
		}
		r, err := op(args[1].I, args[2].I)
		if err != nil {
			return err
		}
		*args[0] = gdk.Value{Vtype: args[1].Vtype, I: r}
		return nil
	}
}

func nilOf(t gdk.Type) int64 {
	switch t {
	case gdk.TypeLng:
		return gdk.LngNil
	default:
		return gdk.IntNil
	}
}

var errDivZero = mal.CreateException(mal.KindArithmetic, "calc.div", "divide by zero")

func addOp(a, b int64) (int64, error) { return a + b, nil }
func subOp(a, b int64) (int64, error) { return a - b, nil }
func mulOp(a, b int64) (int64, error) { return a * b, nil }
func divOp(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errDivZero
	}
	return a / b, nil
}
func modOp(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errDivZero
	}
	return a % b, nil
}

// compare wraps the kernel ordering into a bit-valued command.
func compare(reg *gdk.Registry, want func(int) bool) mal.Command {
	return func(args []*gdk.Value) error {
		*args[0] = gdk.BitValue(want(gdk.ValCmp(reg, args[1], args[2])))
		return nil
	}
}

// printPattern writes its operands to the session output stream.
func printPattern(cntxt *mal.Client, mb *mal.MalBlk, stk *mal.MalStk, pci *mal.InstrRecord) error {
	for i := pci.Retc; i < pci.Argc(); i++ {
		v := &stk.Stk[pci.Arg(i)]
		s, err := cntxt.VM().Kernel.Atoms.ToStr(v)
		if err != nil {
			return mal.CreateException(mal.KindIO, "io.print", "%s", err)
		}
		if _, err := fmt.Fprintf(cntxt.Out, "[ %s ]\n", s); err != nil {
			return mal.CreateException(mal.KindIO, "io.print", "%s", err)
		}
	}
	return nil
}

// raiseCmd builds an exception from an explicit prefix and message; the
// prefix names the catch variable that will absorb it.
func raiseCmd(args []*gdk.Value) error {
	return errors.New(args[1].S + ":" + args[2].S)
}

// Register publishes the module in the VM scope tree.
func Register(vm *mal.VM) error {
	reg := vm.Kernel.Atoms
	ints := []gdk.Type{gdk.TypeInt, gdk.TypeLng}

	type namedOp struct {
		name string
		op   binOp
	}
	for _, no := range []namedOp{{"+", addOp}, {"-", subOp}, {"*", mulOp}, {"/", divOp}, {"%", modOp}} {
		for _, t := range ints {
			if err := vm.RegisterCommand("calc", no.name, arith(no.op),
				[]gdk.Type{t}, []gdk.Type{t, t}); err != nil {
				return err
			}
		}
	}

	cmps := map[string]func(int) bool{
		"==": func(c int) bool { return c == 0 },
		"!=": func(c int) bool { return c != 0 },
		"<":  func(c int) bool { return c < 0 },
		"<=": func(c int) bool { return c <= 0 },
		">":  func(c int) bool { return c > 0 },
		">=": func(c int) bool { return c >= 0 },
	}
	for name, want := range cmps {
		if err := vm.RegisterCommand("calc", name, compare(reg, want),
			[]gdk.Type{gdk.TypeBit}, []gdk.Type{gdk.TypeAny, gdk.TypeAny}); err != nil {
			return err
		}
	}

	if err := vm.RegisterPattern("io", "print", printPattern, true,
		[]gdk.Type{gdk.TypeVoid}, []gdk.Type{gdk.TypeAny}); err != nil {
		return err
	}

	if err := vm.RegisterCommand("mal", "raise", raiseCmd,
		[]gdk.Type{gdk.TypeStr}, []gdk.Type{gdk.TypeStr, gdk.TypeStr}); err != nil {
		return err
	}

	// thin bat module over the buffer pool
	pool := vm.Kernel.Pool
	if err := vm.RegisterCommand("bat", "new", func(args []*gdk.Value) error {
		id := pool.NewBAT(gdk.Type(args[1].I), 0, 0, 0, 0)
		*args[0] = gdk.BatValue(id)
		return nil
	}, []gdk.Type{gdk.TypeBat}, []gdk.Type{gdk.TypeInt}); err != nil {
		return err
	}
	if err := vm.RegisterCommand("bat", "count", func(args []*gdk.Value) error {
		d, ok := pool.Descriptor(args[1].B)
		if !ok {
			return mal.CreateException(mal.KindMAL, "bat.count", "object missing")
		}
		*args[0] = gdk.LngValue(d.Rows)
		return nil
	}, []gdk.Type{gdk.TypeLng}, []gdk.Type{gdk.TypeBat}); err != nil {
		return err
	}

	// factory plant maintenance
	if err := vm.RegisterPattern("factories", "shutdown",
		func(cntxt *mal.Client, mb *mal.MalBlk, stk *mal.MalStk, pci *mal.InstrRecord) error {
			m := cntxt.VM().FindModule(stk.Stk[pci.Arg(1)].S)
			if m == nil {
				return mal.CreateException(mal.KindMAL, "factories.shutdown", "module missing")
			}
			return cntxt.VM().ShutdownFactoryByName(cntxt, m, stk.Stk[pci.Arg(2)].S)
		}, false,
		[]gdk.Type{gdk.TypeVoid}, []gdk.Type{gdk.TypeStr, gdk.TypeStr}); err != nil {
		return err
	}
	return nil
}
