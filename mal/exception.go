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
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind identifies one member of the closed exception taxonomy. Every kind
// names a catchable variable; the sentinel ANYexception catches all of them.
type Kind int

const (
	KindMAL Kind = iota
	KindIllegalArgument
	KindOutOfBounds
	KindIO
	KindInvalidCredentials
	KindOptimizer
	KindStackOverflow
	KindSyntax
	KindType
	KindLoader
	KindParse
	KindArithmetic
	KindPermissionDenied
	KindSQL

	kindCount
)

var exceptionNames = [kindCount]string{
	"MALException",
	"IllegalArgumentException",
	"OutOfBoundsException",
	"IOException",
	"InvalidCredentialsException",
	"OptimizerException",
	"StackOverflowException",
	"SyntaxException",
	"TypeException",
	"LoaderException",
	"ParseException",
	"ArithmeticException",
	"PermissionDeniedException",
	"SQLException",
}

// AnyException is the sentinel catch variable matching every kind.
const AnyException = "ANYexception"

// GDKErrorPrefix tags kernel-level errors captured from the kernel error
// buffer; they carry no MAL context of their own.
const GDKErrorPrefix = "GDKerror"

// M5OutOfMemory is the statically allocated out-of-memory exception; using
// a fixed instance avoids allocating on the failure path.
var M5OutOfMemory = errors.New("MALException:mal:Memory allocation failed.")

// String returns the catch-variable name of the kind.
func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return exceptionNames[KindMAL]
	}
	return exceptionNames[k]
}

// IsExceptionVariable reports whether name belongs to the closed kind set
// or is the ANYexception sentinel.
func IsExceptionVariable(name string) bool {
	if name == AnyException {
		return true
	}
	for _, n := range exceptionNames {
		if n == name {
			return true
		}
	}
	return false
}

// CreateException formats an exception without block context:
// <Kind>:<fcn>:<message>. The result is an owned error value; whichever
// catch variable absorbs it takes over the payload.
func CreateException(kind Kind, fcn, format string, args ...interface{}) error {
	return fmt.Errorf("%s:%s:%s", kind, fcn, fmt.Sprintf(format, args...))
}

// CreateScriptException formats an exception with block context:
// <Kind>:<module.function[pc]>:<message>. A previous exception, when given,
// is prepended on its own line, producing the stacked trail of a cascade.
func CreateScriptException(mb *MalBlk, pc int, kind Kind, prev error, format string, args ...interface{}) error {
	mod, fcn := "unknown", "unknown"
	if mb != nil {
		if m, f := mb.ModFcnNames(); m != "" || f != "" {
			mod, fcn = m, f
		}
	}
	msg := fmt.Sprintf("%s:%s.%s[%d]:%s", kind, mod, fcn, pc, fmt.Sprintf(format, args...))
	if prev != nil {
		msg = prev.Error() + "\n" + msg
	}
	return errors.New(msg)
}

// GetExceptionType extracts the kind from an exception payload. Unknown
// prefixes map to the generic MAL kind.
func GetExceptionType(exception string) Kind {
	head := exception
	if i := strings.IndexByte(head, ':'); i >= 0 {
		head = head[:i]
	}
	for k, n := range exceptionNames {
		if n == head {
			return Kind(k)
		}
	}
	return KindMAL
}

// exceptionPrefix returns the raw variable name before the first colon of
// the payload; exception routing matches it against the block's variables.
// For a cascaded trail this is the kind of the earliest exception.
func exceptionPrefix(exception string) string {
	if i := strings.IndexByte(exception, '\n'); i >= 0 {
		exception = exception[:i]
	}
	if i := strings.IndexByte(exception, ':'); i >= 0 {
		return exception[:i]
	}
	return ""
}

// GetExceptionPlace returns the <module.function[pc]> component, or
// "(unknown)" when the payload does not carry one.
func GetExceptionPlace(exception string) string {
	for _, n := range exceptionNames {
		if strings.HasPrefix(exception, n) && len(exception) > len(n) && exception[len(n)] == ':' {
			rest := exception[len(n)+1:]
			if i := strings.IndexByte(rest, ':'); i >= 0 {
				return rest[:i]
			}
			break
		}
	}
	return "(unknown)"
}

// GetExceptionMessage returns the informational message of the payload.
func GetExceptionMessage(exception string) string {
	for _, n := range exceptionNames {
		if strings.HasPrefix(exception, n) && len(exception) > len(n) && exception[len(n)] == ':' {
			rest := exception[len(n)+1:]
			if i := strings.IndexByte(rest, ':'); i >= 0 {
				return rest[i+1:]
			}
			return rest
		}
	}
	if strings.HasPrefix(exception, "!ERROR: ") {
		return exception[8:]
	}
	return exception
}

// DumpExceptionsToStream writes the exception to out, one !-prefixed line
// per cascaded layer, skipping empty lines.
func DumpExceptionsToStream(out io.Writer, exception error) {
	if exception == nil || out == nil {
		return
	}
	for _, line := range strings.Split(exception.Error(), "\n") {
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "!")
		fmt.Fprintf(out, "!%s\n", line)
	}
}

// rawException re-wraps an already formatted payload lifted out of a catch
// variable.
func rawException(s string) error { return errors.New(s) }

// wrapKernelError folds a pending kernel error-buffer message into ret. A
// lone kernel error becomes a GDKerror-tagged exception; when ret already
// carries an exception the kernel text is appended to the trail.
func wrapKernelError(ret error, errbuf string) error {
	if errbuf == "" {
		return ret
	}
	if ret != nil {
		return errors.New(ret.Error() + "\n" + GDKErrorPrefix + ":" + errbuf)
	}
	return errors.New(GDKErrorPrefix + ":" + errbuf)
}
