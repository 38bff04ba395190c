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

// MaxScope is the number of symbol buckets per module; symbols are grouped
// by first character for cheap prefix search.
const MaxScope = 128

// Symbol binds a function name to its definition block. Native commands
// and patterns carry a one-instruction signature block whose implementation
// handle is set; MAL functions and factories carry their full body.
// Overloads of the same name share one bucket chain.
type Symbol struct {
	Name string // interned
	Def  *MalBlk
	Next *Symbol
}

// Module is one scope of the symbol namespace. Module lookup starts at the
// root scope and walks the outer chain from there.
type Module struct {
	Name         string // interned
	Outer        *Module
	IsAtomModule bool

	subscope [MaxScope]*Symbol
}

func bucketOf(name string) int {
	if name == "" {
		return 0
	}
	return int(name[0]) & (MaxScope - 1)
}

// InsertSymbol prepends sym to its bucket, making the newest overload the
// first candidate.
func (m *Module) InsertSymbol(sym *Symbol) {
	b := bucketOf(sym.Name)
	sym.Next = m.subscope[b]
	m.subscope[b] = sym
}

// DeleteSymbol unlinks the first symbol carrying the same definition.
func (m *Module) DeleteSymbol(sym *Symbol) {
	b := bucketOf(sym.Name)
	for prev, s := (*Symbol)(nil), m.subscope[b]; s != nil; prev, s = s, s.Next {
		if s == sym || (s.Name == sym.Name && s.Def == sym.Def) {
			if prev == nil {
				m.subscope[b] = s.Next
			} else {
				prev.Next = s.Next
			}
			return
		}
	}
}

// FindSymbolInModule returns the first symbol named fcn in this module
// only; overloads follow on the chain.
func (m *Module) FindSymbolInModule(fcn string) *Symbol {
	for s := m.subscope[bucketOf(fcn)]; s != nil; s = s.Next {
		if s.Name == fcn {
			return s
		}
	}
	return nil
}

// ---- VM-level scope management ----------------------------------------------

// NewModule creates a module under the root scope, threading it onto the
// outer chain and priming the two-character jump table.
func (vm *VM) NewModule(name string) *Module {
	name = vm.Namespace.PutName(name)
	vm.nsMu.Lock()
	defer vm.nsMu.Unlock()
	if m := vm.findModuleLocked(name); m != nil {
		return m
	}
	m := &Module{Name: name}
	m.Outer = vm.root.Outer
	vm.root.Outer = m
	vm.setModuleJump(name, m)
	return m
}

// FixModule resolves name to an existing module or creates it.
func (vm *VM) FixModule(name string) *Module {
	name = vm.Namespace.PutName(name)
	vm.nsMu.Lock()
	m := vm.findModuleLocked(name)
	vm.nsMu.Unlock()
	if m != nil {
		return m
	}
	return vm.NewModule(name)
}

// FindModule resolves name along the outer chain, consulting the jump
// table first.
func (vm *VM) FindModule(name string) *Module {
	name = vm.Namespace.PutName(name)
	vm.nsMu.Lock()
	defer vm.nsMu.Unlock()
	return vm.findModuleLocked(name)
}

func (vm *VM) findModuleLocked(name string) *Module {
	if len(name) >= 2 {
		if m := vm.scopeJump[name[0]][name[1]]; m != nil && m.Name == name {
			return m
		}
	}
	for m := vm.root; m != nil; m = m.Outer {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func (vm *VM) setModuleJump(name string, m *Module) {
	if len(name) >= 2 {
		vm.scopeJump[name[0]][name[1]] = m
	}
}

// FindSymbol resolves mod.fcn from the root scope.
func (vm *VM) FindSymbol(mod, fcn string) *Symbol {
	m := vm.FindModule(mod)
	if m == nil {
		return nil
	}
	return m.FindSymbolInModule(vm.Namespace.PutName(fcn))
}

// ---- registration ------------------------------------------------------------

func (vm *VM) newSignature(mod, fcn string, token Token, variadic bool, rets, args []gdk.Type) (*MalBlk, *InstrRecord) {
	mb := NewMalBlk()
	sig := NewInstruction(token)
	sig.ModName = vm.Namespace.PutName(mod)
	sig.FcnName = vm.Namespace.PutName(fcn)
	sig.Retc = len(rets)
	sig.Variadic = variadic
	for _, t := range rets {
		sig.Argv = append(sig.Argv, mb.NewTmpVariable(t))
	}
	for _, t := range args {
		sig.Argv = append(sig.Argv, mb.NewTmpVariable(t))
	}
	mb.Stmt = append(mb.Stmt, sig)
	mb.Stop = 1
	mb.frozen = true
	return mb, sig
}

// RegisterCommand publishes a linked command under mod.fcn. The command
// convention is bounded: wider signatures are rejected here.
func (vm *VM) RegisterCommand(mod, fcn string, cmd Command, rets, args []gdk.Type) error {
	if len(rets)+len(args) > MaxCommandArgs {
		return CreateException(KindType, "mal.module",
			"too many arguments (%d) for command %s.%s", len(rets)+len(args), mod, fcn)
	}
	mb, sig := vm.newSignature(mod, fcn, CommandToken, false, rets, args)
	sig.Cmd = cmd
	vm.FixModule(mod).InsertSymbol(&Symbol{Name: sig.FcnName, Def: mb})
	return nil
}

// RegisterPattern publishes a linked pattern under mod.fcn.
func (vm *VM) RegisterPattern(mod, fcn string, pat Pattern, variadic bool, rets, args []gdk.Type) error {
	mb, sig := vm.newSignature(mod, fcn, PatternToken, variadic, rets, args)
	sig.Pat = pat
	vm.FixModule(mod).InsertSymbol(&Symbol{Name: sig.FcnName, Def: mb})
	return nil
}

// RegisterFunction publishes a frozen MAL function or factory block under
// the module named by its signature.
func (vm *VM) RegisterFunction(mb *MalBlk) error {
	sig := mb.Signature()
	if sig == nil {
		return CreateException(KindMAL, "mal.module", "function block without signature")
	}
	if sig.Token != FunctionToken && sig.Token != FactoryToken {
		return CreateException(KindType, "mal.module",
			"%s.%s is not a function or factory definition", sig.ModName, sig.FcnName)
	}
	vm.FixModule(sig.ModName).InsertSymbol(&Symbol{Name: sig.FcnName, Def: mb})
	return nil
}

// ---- resolution --------------------------------------------------------------

// resolveCall binds mod.fcn(type,...) at pc to an implementation handle.
// Resolution restricts by module and arity, then checks argument types
// structurally, binding the polymorphic :any_n variants consistently.
func (vm *VM) resolveCall(mb *MalBlk, pc int, p *InstrRecord) error {
	m := vm.FindModule(p.ModName)
	if m == nil {
		return CreateScriptException(mb, pc, KindType, nil,
			"'%s' undefined", p.ModName)
	}
	fcn := vm.Namespace.PutName(p.FcnName)
	var candidates int
	for s := m.subscope[bucketOf(fcn)]; s != nil; s = s.Next {
		if s.Name != fcn {
			continue
		}
		candidates++
		sig := s.Def.Signature()
		if !arityMatch(sig, p) {
			continue
		}
		binding := make(map[gdk.Type]gdk.Type)
		if !argsMatch(vm.Kernel.Atoms, s.Def, sig, mb, p, binding) {
			continue
		}
		bindReturns(s.Def, sig, mb, p, binding)
		switch sig.Token {
		case CommandToken:
			p.Token = CmdCallToken
			p.Cmd = sig.Cmd
		case PatternToken:
			p.Token = PatCallToken
			p.Pat = sig.Pat
		case FactoryToken:
			p.Token = FacCallToken
			p.Blk = s.Def
		default:
			p.Token = FcnCallToken
			p.Blk = s.Def
		}
		return nil
	}
	if candidates == 0 {
		return CreateScriptException(mb, pc, KindType, nil,
			"'%s.%s' undefined", p.ModName, p.FcnName)
	}
	return CreateScriptException(mb, pc, KindType, nil,
		"no matching definition for %s.%s with %d arguments",
		p.ModName, p.FcnName, p.Argc()-p.Retc)
}

func arityMatch(sig, p *InstrRecord) bool {
	if sig.Retc != p.Retc {
		return false
	}
	formals := sig.Argc() - sig.Retc
	actuals := p.Argc() - p.Retc
	if sig.Variadic {
		return actuals >= formals-1
	}
	return actuals == formals
}

func argsMatch(reg *gdk.Registry, def *MalBlk, sig *InstrRecord, mb *MalBlk, p *InstrRecord, binding map[gdk.Type]gdk.Type) bool {
	for i := p.Retc; i < p.Argc(); i++ {
		k := sig.Retc + (i - p.Retc)
		if sig.Variadic && k >= sig.Argc() {
			k = sig.Argc() - 1
		}
		ft := def.Vars[sig.Argv[k]].Type
		at := mb.Vars[p.Argv[i]].Type
		if !typeMatch(ft, at, binding) {
			return false
		}
	}
	return true
}

func typeMatch(formal, actual gdk.Type, binding map[gdk.Type]gdk.Type) bool {
	if formal == gdk.TypeAny || actual == gdk.TypeAny {
		return true
	}
	if gdk.IsPolymorphic(formal) {
		if b, ok := binding[formal]; ok {
			return b == actual
		}
		binding[formal] = actual
		return true
	}
	return formal == actual
}

// bindReturns propagates resolved polymorphic bindings onto the caller's
// return variables.
func bindReturns(def *MalBlk, sig *InstrRecord, mb *MalBlk, p *InstrRecord, binding map[gdk.Type]gdk.Type) {
	for i := 0; i < p.Retc && i < sig.Retc; i++ {
		ft := def.Vars[sig.Argv[i]].Type
		rv := mb.Vars[p.Argv[i]]
		if gdk.IsPolymorphic(ft) {
			if b, ok := binding[ft]; ok {
				rv.Type = b
			}
		} else if rv.Type == gdk.TypeAny {
			rv.Type = ft
		}
	}
}
