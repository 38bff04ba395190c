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
	"io"
	"strconv"
)

// Capability dispatchers. Each resolves the attached callback or the
// storage-class default for the built-in atoms.

// FromStr parses the external text form of atom t.
func (r *Registry) FromStr(t Type, s string) (Value, error) {
	a := r.Atom(t)
	if a == nil {
		return Value{}, fmt.Errorf("gdk: unknown atom index %d", t)
	}
	if a.caps.fromStr != nil {
		v, err := a.caps.fromStr(s)
		if err != nil {
			return Value{}, err
		}
		v.Vtype = t
		return v, nil
	}
	v := Value{Vtype: t}
	switch a.Storage {
	case TypeBit:
		switch s {
		case "true":
			v.I = 1
		case "false":
			v.I = 0
		case "nil":
			v.I = BitNil
		default:
			return Value{}, fmt.Errorf("gdk: %q is not a bit", s)
		}
	case TypeBte, TypeSht, TypeInt, TypeLng, TypeOid:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, err
		}
		v.I = i
	case TypeFlt, TypeDbl:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, err
		}
		v.F = f
	case TypeStr:
		v.S = s
		v.Len = len(s)
	default:
		return Value{}, fmt.Errorf("gdk: atom %q has no fromstr capability", a.Name)
	}
	return v, nil
}

// ToStr renders the external text form of a value.
func (r *Registry) ToStr(v *Value) (string, error) {
	a := r.Atom(v.Vtype)
	if a == nil {
		return "", fmt.Errorf("gdk: unknown atom index %d", v.Vtype)
	}
	if a.caps.toStr != nil {
		return a.caps.toStr(v)
	}
	if v.Vtype == TypeStr {
		return v.S, nil
	}
	return v.String(), nil
}

// WriteValue serialises a value using the write capability.
func (r *Registry) WriteValue(v *Value, w io.Writer) error {
	a := r.Atom(v.Vtype)
	if a == nil || a.caps.write == nil {
		return fmt.Errorf("gdk: atom %d has no write capability", v.Vtype)
	}
	return a.caps.write(v, w)
}

// ReadValue deserialises a value of atom t using the read capability.
func (r *Registry) ReadValue(t Type, rd io.Reader) (Value, error) {
	a := r.Atom(t)
	if a == nil || a.caps.read == nil {
		return Value{}, fmt.Errorf("gdk: atom %d has no read capability", t)
	}
	v, err := a.caps.read(rd)
	if err != nil {
		return Value{}, err
	}
	v.Vtype = t
	return v, nil
}

// ValLen reports the payload size of a value in bytes.
func (r *Registry) ValLen(v *Value) int {
	a := r.Atom(v.Vtype)
	if a == nil {
		return 0
	}
	if a.caps.length != nil {
		return a.caps.length(v)
	}
	if v.Vtype == TypeStr {
		return len(v.S)
	}
	return a.Size
}

// Release frees the owned payload of an external value slot, consulting the
// del capability first and the unfix capability second. Inline payloads are
// simply cleared.
func (r *Registry) Release(v *Value) {
	a := r.Atom(v.Vtype)
	if a != nil && v.Extern != nil {
		switch {
		case a.caps.del != nil:
			a.caps.del(v)
		case a.caps.unfix != nil:
			_ = a.caps.unfix(v)
		}
	}
	v.Extern = nil
	v.S = ""
	v.Len = 0
	v.I = 0
	v.F = 0
	v.B = 0
}

// Fix bumps the shared-payload reference count when the atom tracks one.
func (r *Registry) Fix(v *Value) error {
	a := r.Atom(v.Vtype)
	if a == nil || a.caps.fix == nil {
		return nil
	}
	return a.caps.fix(v)
}

// Unfix drops one shared-payload reference when the atom tracks one.
func (r *Registry) Unfix(v *Value) error {
	a := r.Atom(v.Vtype)
	if a == nil || a.caps.unfix == nil {
		return nil
	}
	return a.caps.unfix(v)
}
