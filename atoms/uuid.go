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

// Package atoms ships the user-defined atom modules: uuid, blob, and
// color. They are registered at module-load time and exercise the atom
// registration ABI the way an external kernel library would.
package atoms

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"

	"github.com/monetvm/go-mal/gdk"
)

// RegisterUUID registers the fixed-size uuid atom: 16 bytes, linear
// order, textual round trip through the canonical hyphenated form.
func RegisterUUID(reg *gdk.Registry) (gdk.Type, error) {
	t, err := reg.RegisterFixed("uuid", 16, 8)
	if err != nil {
		return 0, err
	}
	caps := []struct {
		kind gdk.CapKind
		fn   interface{}
	}{
		{gdk.CapFromStr, gdk.FromStrFunc(func(s string) (gdk.Value, error) {
			u, err := uuid.Parse(s)
			if err != nil {
				return gdk.Value{}, fmt.Errorf("uuid: %s", err)
			}
			return gdk.Value{Vtype: t, Extern: u, Len: 16}, nil
		})},
		{gdk.CapToStr, gdk.ToStrFunc(func(v *gdk.Value) (string, error) {
			u, ok := v.Extern.(uuid.UUID)
			if !ok {
				return "nil", nil
			}
			return u.String(), nil
		})},
		{gdk.CapNull, gdk.NullFunc(func() gdk.Value {
			return gdk.Value{Vtype: t, Extern: uuid.Nil, Len: 16}
		})},
		{gdk.CapCmp, gdk.CmpFunc(func(a, b *gdk.Value) int {
			ua, _ := a.Extern.(uuid.UUID)
			ub, _ := b.Extern.(uuid.UUID)
			return bytes.Compare(ua[:], ub[:])
		})},
		{gdk.CapHash, gdk.HashFunc(func(v *gdk.Value) uint64 {
			u, _ := v.Extern.(uuid.UUID)
			var h uint64
			for _, b := range u {
				h = h*31 + uint64(b)
			}
			return h
		})},
		{gdk.CapCopy, gdk.CopyFunc(func(v *gdk.Value) (gdk.Value, error) {
			return *v, nil // a uuid payload is a value, not a shared heap
		})},
		{gdk.CapLen, gdk.LenFunc(func(v *gdk.Value) int { return 16 })},
	}
	for _, c := range caps {
		if err := reg.SetCapability(t, c.kind, c.fn); err != nil {
			return 0, err
		}
	}
	return t, nil
}

// NewUUID mints a random uuid value of the registered atom.
func NewUUID(t gdk.Type) gdk.Value {
	return gdk.Value{Vtype: t, Extern: uuid.New(), Len: 16}
}
