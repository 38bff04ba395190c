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

package atoms

import (
	"fmt"

	"github.com/monetvm/go-mal/gdk"
)

// RegisterColor registers the fixed 4-byte color atom with a linear order
// over the packed RGB word; the payload lives inline.
func RegisterColor(reg *gdk.Registry) (gdk.Type, error) {
	t, err := reg.RegisterFixed("color", 4, 4)
	if err != nil {
		return 0, err
	}
	caps := []struct {
		kind gdk.CapKind
		fn   interface{}
	}{
		{gdk.CapFromStr, gdk.FromStrFunc(func(s string) (gdk.Value, error) {
			var r, g, b int64
			if _, err := fmt.Sscanf(s, "#%02X%02X%02X", &r, &g, &b); err != nil {
				return gdk.Value{}, fmt.Errorf("color: %q is not #RRGGBB", s)
			}
			return gdk.Value{Vtype: t, I: r<<16 | g<<8 | b}, nil
		})},
		{gdk.CapToStr, gdk.ToStrFunc(func(v *gdk.Value) (string, error) {
			return fmt.Sprintf("#%02X%02X%02X", v.I>>16&0xFF, v.I>>8&0xFF, v.I&0xFF), nil
		})},
		{gdk.CapCmp, gdk.CmpFunc(func(a, b *gdk.Value) int {
			switch {
			case a.I < b.I:
				return -1
			case a.I > b.I:
				return 1
			}
			return 0
		})},
		{gdk.CapNull, gdk.NullFunc(func() gdk.Value {
			return gdk.Value{Vtype: t, I: -1}
		})},
	}
	for _, c := range caps {
		if err := reg.SetCapability(t, c.kind, c.fn); err != nil {
			return 0, err
		}
	}
	return t, nil
}

// RegisterAll registers every shipped atom module.
func RegisterAll(reg *gdk.Registry) error {
	if _, err := RegisterUUID(reg); err != nil {
		return err
	}
	if _, err := RegisterBlob(reg); err != nil {
		return err
	}
	if _, err := RegisterColor(reg); err != nil {
		return err
	}
	return nil
}
