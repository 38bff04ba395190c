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
	"strconv"
)

// Value is the tagged variant carried in every stack slot. Numeric payloads
// live inline in I or F; strings in S; table handles in B. For registered
// external atoms the Extern pointer either is nil or is exclusively owned by
// this slot — releasing it is the garbage collector's job, via the atom's
// del/unfix capability.
type Value struct {
	Vtype  Type
	Len    int
	I      int64
	F      float64
	S      string
	B      BatID
	Extern interface{}
}

// Convenience constructors for the inline storage classes.

// IntValue returns an int-typed value.
func IntValue(i int64) Value { return Value{Vtype: TypeInt, I: i} }

// LngValue returns an lng-typed value.
func LngValue(i int64) Value { return Value{Vtype: TypeLng, I: i} }

// BitValue returns a bit-typed value.
func BitValue(b bool) Value {
	v := Value{Vtype: TypeBit}
	if b {
		v.I = 1
	}
	return v
}

// OidValue returns an oid-typed value.
func OidValue(i int64) Value { return Value{Vtype: TypeOid, I: i} }

// DblValue returns a dbl-typed value.
func DblValue(f float64) Value { return Value{Vtype: TypeDbl, F: f} }

// StrValue returns a str-typed value.
func StrValue(s string) Value { return Value{Vtype: TypeStr, S: s, Len: len(s)} }

// BatValue returns a bat-typed value holding a table handle.
func BatValue(id BatID) Value { return Value{Vtype: TypeBat, B: id} }

// IsNil reports whether v is nil. Built-in atoms compare against the fixed
// nil of their storage class; any other atom counts as nil only when it
// carries no payload at all. The registry's Null capability is not consulted.
func (v *Value) IsNil() bool {
	switch v.Vtype {
	case TypeVoid:
		return true
	case TypeBit:
		return v.I == BitNil
	case TypeBte:
		return v.I == BteNil
	case TypeSht:
		return v.I == ShtNil
	case TypeInt:
		return v.I == IntNil
	case TypeLng:
		return v.I == LngNil
	case TypeOid:
		return v.I == OidNil
	case TypeFlt:
		return v.F == FltNil
	case TypeDbl:
		return v.F == DblNil
	case TypeStr:
		return v.S == StrNil
	case TypeBat:
		return v.B == 0
	}
	return v.Extern == nil && v.I == 0 && v.S == ""
}

// IsFalse reports the barrier fall-off condition: false, nil, or nil-string.
func (v *Value) IsFalse() bool {
	if v.Vtype == TypeBit {
		return v.I == 0 || v.I == BitNil
	}
	return v.IsNil()
}

// String renders the value for diagnostics and listings.
func (v *Value) String() string {
	if v.IsNil() {
		return "nil"
	}
	switch v.Vtype {
	case TypeBit:
		if v.I != 0 {
			return "true"
		}
		return "false"
	case TypeBte, TypeSht, TypeInt, TypeLng, TypeOid:
		return strconv.FormatInt(v.I, 10)
	case TypeFlt, TypeDbl:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case TypeStr:
		return strconv.Quote(v.S)
	case TypeBat:
		return fmt.Sprintf("<bat %d>", v.B)
	}
	return fmt.Sprintf("<%d:%v>", v.Vtype, v.Extern)
}

// ValCopy duplicates rhs into lhs such that lhs owns its payload. For
// external atoms the atom's copy capability is used; when absent, the copy
// goes through the tostr/fromstr round trip. The previous content of lhs is
// NOT released; the caller saves a backup when the slot may own a payload.
func ValCopy(r *Registry, lhs, rhs *Value) error {
	if r != nil && r.IsExternal(rhs.Vtype) && rhs.Extern != nil {
		a := r.Atom(rhs.Vtype)
		if a.caps.copy != nil {
			nv, err := a.caps.copy(rhs)
			if err != nil {
				return err
			}
			*lhs = nv
			return nil
		}
		if a.caps.toStr != nil && a.caps.fromStr != nil {
			s, err := a.caps.toStr(rhs)
			if err != nil {
				return err
			}
			nv, err := a.caps.fromStr(s)
			if err != nil {
				return err
			}
			nv.Vtype = rhs.Vtype
			*lhs = nv
			return nil
		}
		return fmt.Errorf("gdk: atom %q has no copy path", a.Name)
	}
	*lhs = *rhs
	return nil
}

// ValCmp orders two values of the same atom using the compare capability or
// the storage-class default. Values of different atoms compare by tag.
func ValCmp(r *Registry, a, b *Value) int {
	if a.Vtype != b.Vtype {
		return int(a.Vtype) - int(b.Vtype)
	}
	if r != nil {
		if atom := r.Atom(a.Vtype); atom != nil && atom.caps.cmp != nil {
			return atom.caps.cmp(a, b)
		}
	}
	switch a.Vtype {
	case TypeFlt, TypeDbl:
		switch {
		case a.F < b.F:
			return -1
		case a.F > b.F:
			return 1
		}
		return 0
	case TypeStr:
		switch {
		case a.S < b.S:
			return -1
		case a.S > b.S:
			return 1
		}
		return 0
	case TypeBat:
		return int(a.B - b.B)
	default:
		switch {
		case a.I < b.I:
			return -1
		case a.I > b.I:
			return 1
		}
		return 0
	}
}

// ValHash produces a bucket key using the hash capability or a storage-class
// default mix.
func ValHash(r *Registry, v *Value) uint64 {
	if r != nil {
		if atom := r.Atom(v.Vtype); atom != nil && atom.caps.hash != nil {
			return atom.caps.hash(v)
		}
	}
	switch v.Vtype {
	case TypeStr:
		return strHash(v.S)
	case TypeFlt, TypeDbl:
		return mix64(uint64(int64(v.F)))
	default:
		return mix64(uint64(v.I))
	}
}

// strHash is the one-at-a-time string mix.
func strHash(s string) uint64 {
	var h uint64
	for i := 0; i < len(s); i++ {
		h += uint64(s[i])
		h += h << 10
		h ^= h >> 6
	}
	h += h << 3
	h ^= h >> 11
	h += h << 15
	return h
}

func mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	return x
}
