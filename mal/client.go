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
	"io"
	"io/ioutil"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/semaphore"

	"github.com/monetvm/go-mal/gdk"
)

// Client execution modes.
const (
	ClientRunning = iota
	ClientFinishing
)

// AbortedMessage short-circuits every call on a session whose previous
// call failed, until the client rolls back.
const AbortedMessage = "COMMIT: transaction is aborted, will ROLLBACK instead"

// VM is the process-wide context of the abstract machine: configuration,
// the identifier namespace, the module scope tree, the factory plant
// table, the admission pool, and the kernel facade. One VM is created at
// startup and torn down at shutdown; sessions (Clients) share it.
//
// Two process-wide locks exist: the namespace lock guarding scope-tree
// insertion and the context lock guarding cross-thread exception-variable
// stores. Acquisition order is namespace before context, and neither is
// ever held across a callback invocation.
type VM struct {
	Config    Config
	Namespace *Namespace
	Kernel    *gdk.Kernel
	Admission *AdmissionPool

	root      *Module
	scopeJump [256][256]*Module
	plants    plantTable

	// parallelism caps the number of concurrent CallMAL invocations.
	parallelism *semaphore.Weighted

	nsMu  sync.Mutex // namespace lock
	ctxMu sync.Mutex // context lock

	instrFeed event.Feed
	instrSubs int32
}

// NewVM boots the process-wide interpreter state.
func NewVM(cfg Config) *VM {
	cfg = cfg.withDefaults()
	vm := &VM{
		Config:      cfg,
		Namespace:   NewNamespace(),
		Kernel:      gdk.NewKernel(),
		parallelism: semaphore.NewWeighted(int64(runtime.NumCPU())),
	}
	vm.Admission = NewAdmissionPool(cfg)
	vm.root = &Module{Name: vm.Namespace.PutName("mal")}
	vm.setModuleJump(vm.root.Name, vm.root)
	log.Info("abstract machine initialised",
		"maxCallDepth", cfg.MaxCallDepth,
		"admissionPool", vm.Admission.Limit())
	return vm
}

// Root returns the root scope of the module tree.
func (vm *VM) Root() *Module { return vm.root }

// Shutdown tears the process-wide state down: plants are cleared, the
// module tree dropped.
func (vm *VM) Shutdown() {
	vm.plants.shutdownAll(vm)
	vm.nsMu.Lock()
	vm.root.Outer = nil
	vm.nsMu.Unlock()
	log.Info("abstract machine shut down")
}

// Client is one interactive session on the VM: its output stream, user
// scope, global frame, deadline and debug state. Independent clients run
// on separate threads and may execute concurrently.
type Client struct {
	vm  *VM
	Out io.Writer

	// Nspace is the session's user module; session-global variables live
	// on the Glb frame.
	Nspace *Module
	Glb    *MalStk

	ITrace   byte
	Mode     int
	QTimeout time.Duration

	deadline   time.Time
	cancelFlag int32
	errState   int32
}

// NewClient opens a session. A nil out discards session output.
func (vm *VM) NewClient(out io.Writer) *Client {
	if out == nil {
		out = ioutil.Discard
	}
	c := &Client{
		vm:     vm,
		Out:    out,
		Nspace: vm.FixModule("user"),
		Mode:   ClientRunning,
	}
	if vm.Config.QueryTimeoutMS > 0 {
		c.QTimeout = time.Duration(vm.Config.QueryTimeoutMS) * time.Millisecond
	}
	c.ITrace = vm.Config.Debug
	return c
}

// VM returns the process context the session runs on.
func (c *Client) VM() *VM { return c.vm }

// Cancel requests cooperative termination; the interpreter honors it at
// the next instruction boundary, factories at the next yield or loop
// iteration.
func (c *Client) Cancel() { atomic.StoreInt32(&c.cancelFlag, 1) }

func (c *Client) cancelled() bool { return atomic.LoadInt32(&c.cancelFlag) != 0 }

// SetDeadline arms the per-call hard deadline; the zero time disarms it.
func (c *Client) SetDeadline(t time.Time) { c.deadline = t }

func (c *Client) timedOut() bool {
	return !c.deadline.IsZero() && time.Now().After(c.deadline)
}

// Status reports the session status: "idle" or "error".
func (c *Client) Status() string {
	if atomic.LoadInt32(&c.errState) != 0 {
		return "error"
	}
	return "idle"
}

// Rollback clears the error status, re-enabling execution.
func (c *Client) Rollback() {
	atomic.StoreInt32(&c.errState, 0)
	atomic.StoreInt32(&c.cancelFlag, 0)
}

// Execute runs a frozen top-level block on a fresh frame. An exception
// reaching the session boundary is written to the output stream, one
// !-prefixed line per cascaded layer, the session status turns "error",
// and any savepoint opened during the call is invalidated: until Rollback
// every further call short-circuits.
func (c *Client) Execute(mb *MalBlk) error {
	if atomic.LoadInt32(&c.errState) != 0 {
		return errors.New(AbortedMessage)
	}
	if c.QTimeout > 0 {
		c.SetDeadline(time.Now().Add(c.QTimeout))
	} else {
		c.SetDeadline(time.Time{})
	}
	c.vm.Admission.enterWorker()
	err := RunMAL(c, mb, nil, nil)
	c.vm.Admission.leaveWorker()
	if err != nil {
		DumpExceptionsToStream(c.Out, err)
		atomic.StoreInt32(&c.errState, 1)
	}
	return err
}

// ExecuteWithStack runs mb against a caller-provided (usually global)
// frame, keeping the slots alive across calls.
func (c *Client) ExecuteWithStack(mb *MalBlk, stk *MalStk) error {
	if atomic.LoadInt32(&c.errState) != 0 {
		return errors.New(AbortedMessage)
	}
	if c.QTimeout > 0 {
		c.SetDeadline(time.Now().Add(c.QTimeout))
	}
	c.vm.Admission.enterWorker()
	err := RunMAL(c, mb, nil, stk)
	c.vm.Admission.leaveWorker()
	if err != nil {
		DumpExceptionsToStream(c.Out, err)
		atomic.StoreInt32(&c.errState, 1)
	}
	return err
}

// Close tears the session down, releasing the global frame.
func (c *Client) Close() {
	if c.Glb != nil {
		ClearStack(c.vm, c.Glb)
		c.Glb = nil
	}
	c.Mode = ClientFinishing
}
