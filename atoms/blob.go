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
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/monetvm/go-mal/gdk"
)

// RegisterBlob registers the variable-size blob atom. Attaching the heap
// capability flags it varsized; the payload is an owned byte slice that
// the garbage collector releases through the del capability.
func RegisterBlob(reg *gdk.Registry) (gdk.Type, error) {
	t, err := reg.Register("blob", gdk.TypeStr)
	if err != nil {
		return 0, err
	}
	caps := []struct {
		kind gdk.CapKind
		fn   interface{}
	}{
		{gdk.CapHeap, gdk.HeapFunc(func(capacity int) error { return nil })},
		{gdk.CapDel, gdk.DelFunc(func(v *gdk.Value) {
			v.Extern = nil
			v.Len = 0
		})},
		{gdk.CapCopy, gdk.CopyFunc(func(v *gdk.Value) (gdk.Value, error) {
			b, _ := v.Extern.([]byte)
			nb := append([]byte(nil), b...)
			return gdk.Value{Vtype: t, Extern: nb, Len: len(nb)}, nil
		})},
		{gdk.CapLen, gdk.LenFunc(func(v *gdk.Value) int {
			b, _ := v.Extern.([]byte)
			return len(b)
		})},
		{gdk.CapFromStr, gdk.FromStrFunc(func(s string) (gdk.Value, error) {
			b, err := hex.DecodeString(s)
			if err != nil {
				return gdk.Value{}, fmt.Errorf("blob: %s", err)
			}
			return gdk.Value{Vtype: t, Extern: b, Len: len(b)}, nil
		})},
		{gdk.CapToStr, gdk.ToStrFunc(func(v *gdk.Value) (string, error) {
			b, _ := v.Extern.([]byte)
			return hex.EncodeToString(b), nil
		})},
		{gdk.CapCmp, gdk.CmpFunc(func(a, b *gdk.Value) int {
			ba, _ := a.Extern.([]byte)
			bb, _ := b.Extern.([]byte)
			return bytes.Compare(ba, bb)
		})},
		{gdk.CapHash, gdk.HashFunc(func(v *gdk.Value) uint64 {
			b, _ := v.Extern.([]byte)
			d := sha3.Sum256(b)
			return binary.LittleEndian.Uint64(d[:8])
		})},
		{gdk.CapWrite, gdk.WriteFunc(func(v *gdk.Value, w io.Writer) error {
			b, _ := v.Extern.([]byte)
			if err := binary.Write(w, binary.LittleEndian, int32(len(b))); err != nil {
				return err
			}
			_, err := w.Write(b)
			return err
		})},
		{gdk.CapRead, gdk.ReadFunc(func(r io.Reader) (gdk.Value, error) {
			var n int32
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return gdk.Value{}, err
			}
			b := make([]byte, n)
			if _, err := io.ReadFull(r, b); err != nil {
				return gdk.Value{}, err
			}
			return gdk.Value{Vtype: t, Extern: b, Len: int(n)}, nil
		})},
		{gdk.CapNull, gdk.NullFunc(func() gdk.Value {
			return gdk.Value{Vtype: t}
		})},
	}
	for _, c := range caps {
		if err := reg.SetCapability(t, c.kind, c.fn); err != nil {
			return 0, err
		}
	}
	return t, nil
}

// NewBlob wraps b as an owned blob value.
func NewBlob(t gdk.Type, b []byte) gdk.Value {
	return gdk.Value{Vtype: t, Extern: append([]byte(nil), b...), Len: len(b)}
}
