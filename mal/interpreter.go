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

// The MAL interpreter: a fetch/decode/dispatch loop over frozen blocks.
// One invocation is pinned to one thread for the duration of a block;
// nested calls, including factory dispatch, run inline on that thread.
// Errors surfacing from any callback become exception payloads routed to
// the nearest enclosing catch region, cascading to the caller otherwise.

package mal

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/monetvm/go-mal/gdk"
)

// stackDepthLimit bounds the estimated committed slot count across a call
// chain; exceeding it aborts before the host stack is endangered.
const stackDepthLimit = 1 << 20

// pauseInterval is the nap of a frame parked by the cooperative debugger.
const pauseInterval = time.Millisecond

// RunMAL prepares a frame for mb and interprets it from pc 1. When env is
// given the frame is reused (factories and session-global frames);
// otherwise a fresh frame is allocated and garbage collected on return.
func RunMAL(cntxt *Client, mb, mbcaller *MalBlk, env *MalStk) error {
	vm := cntxt.vm
	if mb.Errors && cntxt.ITrace == 0 {
		return CreateException(KindMAL, "mal.interpreter", "syntax error in script")
	}
	var stk *MalStk
	if env != nil {
		stk = env
		if stk.Blk != nil && stk.Blk != mb {
			return CreateException(KindMAL, "mal.interpreter", "misalignment of symbols")
		}
		if mb.VTop() > len(stk.Stk) {
			ReallocStack(stk, mb.VTop())
			stk.StkTop = mb.VTop()
		}
		stk.Blk = mb
		initStackFrom(vm, mb, stk, stk.StkBot)
	} else {
		stk = PrepareMALstack(vm, mb, mb.VTop())
		stk.Cmd = cntxt.ITrace
	}
	ret := RunMALsequence(cntxt, mb, 1, 0, stk, env, nil)
	if !stk.KeepAlive && mb.GarbageControl() {
		GarbageCollector(vm, mb, stk, env != stk)
	}
	if ret == nil && cntxt.timedOut() {
		timeoutsMeter.Mark(1)
		ret = CreateException(KindMAL, "mal.interpreter", "query timed out")
	}
	return ret
}

// ReenterMAL resumes interpretation at a specific pc on an existing frame;
// co-routines and single-stepping schedulers use it. A negative stoppc
// runs to the end of the block.
func ReenterMAL(cntxt *Client, mb *MalBlk, startpc, stoppc int, stk *MalStk) error {
	if stk == nil {
		return CreateException(KindMAL, "mal.interpreter", "stack frame missing")
	}
	if stoppc < 0 {
		stoppc = 0
	}
	keepAlive := stk.KeepAlive
	ret := RunMALsequence(cntxt, mb, startpc, stoppc, stk, nil, nil)
	if !keepAlive && mb.GarbageControl() {
		GarbageCollector(cntxt.vm, mb, stk, true)
	}
	return ret
}

// CallMAL invokes a MAL abstraction directly with an argument vector. An
// old frame may be passed in through env for re-use; the concurrency of
// top-level plans is capped by the VM parallelism gate.
func CallMAL(cntxt *Client, mb *MalBlk, env **MalStk, argv []*Value, debug byte) error {
	vm := cntxt.vm
	pci := mb.Signature()
	if err := vm.parallelism.Acquire(context.Background(), 1); err != nil {
		return CreateException(KindMAL, "mal.interpreter", "%s", err)
	}
	defer vm.parallelism.Release(1)

	var ret error
	switch pci.Token {
	case FunctionToken, FcnCallToken:
		var stk *MalStk
		if *env == nil {
			stk = PrepareMALstack(vm, mb, mb.VTop())
			*env = stk
		} else {
			stk = *env
		}
		for i := pci.Retc; i < pci.Argc() && i < len(argv); i++ {
			lhs := &stk.Stk[pci.Argv[i]]
			if err := gdk.ValCopy(vm.Kernel.Atoms, lhs, argv[i]); err != nil {
				return CreateException(KindMAL, "mal.interpreter", "%s", err)
			}
			if lhs.Vtype == gdk.TypeBat && lhs.B != 0 {
				vm.Kernel.Pool.IncRef(lhs.B, true)
			}
		}
		stk.Cmd = debug
		ret = RunMALsequence(cntxt, mb, 1, 0, stk, nil, nil)
	case FactoryToken, FacCallToken:
		ret = CallFactory(cntxt, mb, argv, debug)
	default:
		return CreateException(KindMAL, "mal.interpreter", "unknown instruction type")
	}
	if ret == nil && cntxt.timedOut() {
		timeoutsMeter.Mark(1)
		ret = CreateException(KindMAL, "mal.interpreter", "query timed out")
	}
	return ret
}

// malCommandCall invokes a linked command with slot pointers per the
// declared arity.
func malCommandCall(stk *MalStk, pci *InstrRecord) error {
	if pci.Argc() > MaxCommandArgs {
		return CreateException(KindType, "mal.interpreter", "too many arguments for command call")
	}
	args := make([]*Value, pci.Argc())
	for i := range args {
		args[i] = &stk.Stk[pci.Argv[i]]
	}
	return pci.Cmd(args)
}

// isCallToken reports whether the instruction invokes an implementation
// and therefore participates in the garbage and admission disciplines.
func isCallToken(t Token) bool {
	switch t {
	case AssignToken, CmdCallToken, PatCallToken, FcnCallToken, FacCallToken:
		return true
	}
	return false
}

// RunMALsequence executes the instruction range [startpc, stoppc) of mb
// against stk until the range is exited or an exception escapes. A stoppc
// of zero runs to the end of the block. The env frame and pcicaller are
// set for nested function calls and carry the result slots.
func RunMALsequence(cntxt *Client, mb *MalBlk, startpc, stoppc int, stk *MalStk, env *MalStk, pcicaller *InstrRecord) error {
	vm := cntxt.vm
	if stk == nil {
		return CreateException(KindMAL, "mal.interpreter", "stack frame missing")
	}
	if stoppc <= 0 {
		stoppc = mb.Stop
	}

	// backup and garbage vectors of the per-instruction GC discipline
	backup := make([]Value, mb.MaxArg)
	garbage := make([]int, mb.MaxArg)

	var ret error
	exceptionVar := -1
	lastCatchVar := -1 // variable of the catch region being executed
	stkpc := startpc

	for stkpc < mb.Stop && stkpc != stoppc {
		pci := mb.GetInstrPtr(stkpc)

		// cooperative status handling: pause, quit, cancel, finish
		if stk.Status == StatusPause {
			time.Sleep(pauseInterval)
			continue
		}
		if stk.Status == StatusQuit {
			stk.Cmd = CmdExit
		}
		if stk.Cmd == CmdExit || cntxt.Mode == ClientFinishing || cntxt.cancelled() {
			stk.Cmd = CmdNone
			ret = CreateScriptException(mb, stkpc, KindMAL, nil, "query aborted")
			timeoutsMeter.Mark(1)
			stkpc = mb.Stop
			break
		}

		instructionsMeter.Mark(1)
		profStart := vm.profileBegin()

		// Before dispatching, decide for every argument whether this pc is
		// its last use; save shallow backups of in/out slots so that
		// replaced owners can be released after the call. This keeps every
		// heap payload at one owner at any quiescent point.
		gcActive := mb.GarbageControl() && isCallToken(pci.Token)
		if gcActive {
			for i := 0; i < pci.Argc(); i++ {
				a := pci.Arg(i)
				backup[i] = Value{}
				garbage[i] = -1
				if stk.Stk[a].Vtype == gdk.TypeBat && mb.Vars[a].EOL == stkpc && pci.IsNotUsedIn(i+1, a) {
					garbage[i] = a
				}
				if i < pci.Retc && stk.Stk[a].Vtype == gdk.TypeBat {
					backup[i] = stk.Stk[a]
				} else if i < pci.Retc && vm.Kernel.Atoms.IsExternal(stk.Stk[a].Vtype) {
					backup[i] = stk.Stk[a]
				}
			}
		}

		// admission control: an expensive instruction waits for pool
		// capacity before it starts, and gives it back when done
		var argclaim int64
		if isCallToken(pci.Token) && pci.Token != AssignToken {
			if argclaim = vm.ArgumentClaim(mb, stk, pci); argclaim > 0 {
				vm.Admission.admitOrDelay(argclaim, 0)
			}
		}
		callStart := time.Now()

		ret = nil
		switch pci.Token {
		case AssignToken:
			// multiple assignment: copy each right-hand value to the
			// corresponding left-hand slot
			for k, i := 0, pci.Retc; k < pci.Retc && i < pci.Argc(); k, i = k+1, i+1 {
				lhs := &stk.Stk[pci.Argv[k]]
				rhs := &stk.Stk[pci.Argv[i]]
				if err := gdk.ValCopy(vm.Kernel.Atoms, lhs, rhs); err != nil {
					ret = CreateScriptException(mb, stkpc, KindMAL, nil, "%s", err)
					break
				}
				if lhs.Vtype == gdk.TypeBat && lhs.B != 0 {
					vm.Kernel.Pool.IncRef(lhs.B, true)
				}
			}
		case PatCallToken:
			if pci.Pat == nil {
				ret = CreateScriptException(mb, stkpc, KindMAL, nil,
					"address of pattern %s.%s missing", pci.ModName, pci.FcnName)
			} else {
				ret = pci.Pat(cntxt, mb, stk, pci)
			}
			callsMeter.Mark(1)
		case CmdCallToken:
			if pci.Cmd == nil {
				ret = CreateScriptException(mb, stkpc, KindMAL, nil,
					"address of command %s.%s missing", pci.ModName, pci.FcnName)
			} else {
				ret = malCommandCall(stk, pci)
			}
			callsMeter.Mark(1)
		case FacCallToken:
			if pci.Blk == nil {
				ret = CreateScriptException(mb, stkpc, KindMAL, nil,
					"reference to MAL function missing")
			} else {
				ret = RunFactory(cntxt, pci.Blk, mb, stk, pci)
			}
			callsMeter.Mark(1)
		case FcnCallToken:
			ret = runNestedCall(cntxt, mb, stk, pci, stkpc)
			callsMeter.Mark(1)
		case NoopToken, RemToken:
			// no effect
		case EndToken:
			if sig := mb.Signature(); sig != nil && sig.Token == FactoryToken {
				ret = shutdownFactory(cntxt, mb)
			}
			if pcicaller != nil && mb.GarbageControl() {
				GarbageCollector(vm, mb, stk, true)
			}
			if cntxt.timedOut() {
				timeoutsMeter.Mark(1)
				ret = CreateException(KindMAL, "mal.interpreter", "query timed out")
				break
			}
			stkpc = mb.Stop // normal termination of the block
			continue
		default:
			ret = CreateScriptException(mb, stkpc, KindMAL, nil,
				"unknown operation: %s", pci.String())
			stkpc = mb.Stop
			continue
		}

		if argclaim > 0 {
			vm.Admission.Release(argclaim, 0)
		}
		vm.profileExit(mb, stkpc, pci, profStart, ret != nil)
		if isCallToken(pci.Token) && pci.Token != AssignToken {
			vm.Admission.ResourceFairness(time.Since(callStart).Microseconds())
		}

		// post-execution garbage step: drop inputs at their last use and
		// release owners replaced in return positions
		if ret == nil && gcActive {
			for i := 0; i < pci.Argc(); i++ {
				a := pci.Arg(i)
				if mb.Vars[a].Type == gdk.TypeBat || stk.Stk[a].Vtype == gdk.TypeBat {
					if i < pci.Retc && backup[i].B != 0 {
						bx := backup[i].B
						backup[i].B = 0
						vm.Kernel.Pool.DecRef(bx, true)
					}
					if garbage[i] >= 0 {
						bid := stk.Stk[garbage[i]].B
						log.Trace("garbage collected argument", "pc", stkpc, "bat", bid,
							"var", mb.varName(garbage[i]))
						stk.Stk[garbage[i]].B = 0
						if bid != 0 {
							vm.Kernel.Pool.DecRef(bid, true)
						}
					}
				} else if i < pci.Retc && backup[i].Extern != nil &&
					backup[i].Extern != stk.Stk[a].Extern {
					vm.Kernel.Atoms.Release(&backup[i])
				}
			}
		}

		// capture errors raised deep inside kernel primitives
		if vm.Kernel.HasError() {
			ret = wrapKernelError(ret, vm.Kernel.TakeError())
		}

		// Exception handling. The first identifier of the payload names
		// the catch variable; ANYexception catches any kind.
		if ret != nil {
			exceptionsMeter.Mark(1)
			if strings.Contains(ret.Error(), "!skip-to-end") {
				ret = nil
				stkpc = mb.Stop
				continue
			}
			exceptionVar = -1
			if prefix := exceptionPrefix(ret.Error()); prefix != "" {
				exceptionVar = mb.FindVariable(prefix)
			}
			if exceptionVar == -1 {
				exceptionVar = mb.FindVariable(AnyException)
			}
			if exceptionVar == -1 {
				// uncaught in this frame: cascade a trail marker when the
				// failure came back from a nested plan, then propagate
				if pci.Token == FcnCallToken || pci.Token == FacCallToken {
					ret = CreateScriptException(mb, stkpc, KindMAL, ret, "Exception not caught")
				}
				stkpc = mb.Stop
				continue
			}
			if mb.Vars[exceptionVar].Type == gdk.TypeStr {
				// watch out for concurrent access to the shared frame
				vm.ctxMu.Lock()
				stk.Stk[exceptionVar] = gdk.StrValue(ret.Error())
				vm.ctxMu.Unlock()
				ret = nil
			} else {
				DumpExceptionsToStream(cntxt.Out, ret)
				ret = nil
			}
			// position at the catch instruction handling this variable,
			// skipping nested catches naming other variables
			stkpc = scanToCatch(mb, stkpc, exceptionVar)
			if stkpc == mb.Stop {
				continue
			}
			pci = mb.GetInstrPtr(stkpc)
		}

		// control-flow step
		switch pci.Barrier {
		case BarrierSymbol:
			v := &stk.Stk[pci.DestVar()]
			if v.IsFalse() {
				stkpc = pci.Jump // skip to the matching exit
			}
			stkpc++
		case LeaveSymbol, RedoSymbol:
			v := &stk.Stk[pci.DestVar()]
			if !v.IsFalse() {
				stkpc = pci.Jump
			} else {
				stkpc++
			}
		case CatchSymbol:
			// catch blocks are skipped unless searched for explicitly
			if exceptionVar < 0 {
				stkpc = pci.Jump
				break
			}
			lastCatchVar = exceptionVar
			exceptionVar = -1
			stkpc++
		case ExitSymbol:
			if pci.DestVar() == exceptionVar {
				exceptionVar = -1
			}
			if pci.DestVar() == lastCatchVar {
				lastCatchVar = -1
			}
			stkpc++
		case RaiseSymbol:
			exceptionVar = pci.DestVar()
			ret = nil
			if mb.Vars[exceptionVar].Type == gdk.TypeStr {
				// a raise inside a catch region whose variable is still
				// set prepends the prior exception, stacking the trail
				var prev error
				if lastCatchVar >= 0 && lastCatchVar != exceptionVar {
					prev = pendingExceptionValue(mb, stk, lastCatchVar)
				}
				ret = CreateScriptException(mb, stkpc,
					GetExceptionType(mb.varName(exceptionVar)), prev,
					"%s", stk.Stk[exceptionVar].S)
				vm.ctxMu.Lock()
				stk.Stk[exceptionVar] = gdk.StrValue(ret.Error())
				vm.ctxMu.Unlock()
			}
			stkpc = scanToCatch(mb, stkpc+1, exceptionVar)
			if stkpc < mb.Stop {
				ret = nil
			}
			continue
		case YieldSymbol:
			return yieldFactory(vm, mb, pci, stkpc)
		case ReturnSymbol:
			if sig := mb.Signature(); sig != nil && sig.Token == FactoryToken {
				if _, err := vm.plants.yieldResult(vm, mb, pci); err == nil {
					_ = shutdownFactory(cntxt, mb)
				}
			} else if env != nil && pcicaller != nil {
				// a fake multi-assignment into the caller's slots
				for i := 0; i < pcicaller.Retc && i < pci.Retc; i++ {
					rhs := &stk.Stk[pci.Argv[i]]
					lhs := &env.Stk[pcicaller.Argv[i]]
					if err := gdk.ValCopy(vm.Kernel.Atoms, lhs, rhs); err != nil {
						ret = CreateScriptException(mb, stkpc, KindMAL, nil, "%s", err)
						break
					}
					if lhs.Vtype == gdk.TypeBat && lhs.B != 0 {
						vm.Kernel.Pool.IncRef(lhs.B, true)
					}
				}
				if mb.GarbageControl() {
					GarbageCollector(vm, mb, stk, true)
				}
			}
			stkpc = mb.Stop
			continue
		default:
			stkpc++
		}

		if cntxt.timedOut() {
			timeoutsMeter.Mark(1)
			ret = CreateException(KindMAL, "mal.interpreter", "query timed out")
			stkpc = mb.Stop
		}
	}

	// an exception variable that was set but never cleared by its exit
	// cascades out of the block
	if exceptionVar >= 0 {
		prev := ret
		if prev == nil {
			prev = pendingExceptionValue(mb, stk, exceptionVar)
		}
		ret = CreateScriptException(mb, mb.Stop-1,
			GetExceptionType(mb.varName(exceptionVar)), prev, "Exception not caught")
	}
	return ret
}

// pendingExceptionValue lifts a previously stored exception string out of
// the catch variable, for cascading.
func pendingExceptionValue(mb *MalBlk, stk *MalStk, exceptionVar int) error {
	if mb.Vars[exceptionVar].Type != gdk.TypeStr {
		return nil
	}
	s := stk.Stk[exceptionVar].S
	if s == "" || s == gdk.StrNil {
		return nil
	}
	return rawException(s)
}

// scanToCatch finds the next catch instruction from pc onward whose
// target list names exceptionVar or the ANYexception sentinel.
func scanToCatch(mb *MalBlk, pc, exceptionVar int) int {
	for ; pc < mb.Stop; pc++ {
		l := mb.GetInstrPtr(pc)
		if l.Barrier != CatchSymbol {
			continue
		}
		for j := 0; j < l.Retc; j++ {
			if l.Argv[j] == exceptionVar || mb.varName(l.Argv[j]) == AnyException {
				return pc
			}
		}
	}
	return mb.Stop
}

// runNestedCall assembles a fresh frame for a user-defined function,
// copies the actual arguments onto the formal slots, and re-enters the
// interpreter at pc 1. The frame is torn down on return.
func runNestedCall(cntxt *Client, mb *MalBlk, stk *MalStk, pci *InstrRecord, stkpc int) error {
	vm := cntxt.vm
	stk.PCup = stkpc
	nstk := PrepareMALstack(vm, pci.Blk, pci.Blk.VTop())
	nstk.StkDepth = len(nstk.Stk) + stk.StkDepth
	nstk.CallDepth = stk.CallDepth + 1
	nstk.Up = stk
	if nstk.CallDepth > vm.Config.MaxCallDepth {
		return CreateScriptException(mb, stkpc, KindStackOverflow, nil,
			"exceeded maximum call depth %d", vm.Config.MaxCallDepth)
	}
	if nstk.StkDepth > stackDepthLimit {
		// running low on stack space
		return CreateScriptException(mb, stkpc, KindStackOverflow, nil, "stack too deep")
	}

	q := pci.Blk.Signature()
	arg := q.Retc
	for i := pci.Retc; i < pci.Argc(); i++ {
		if arg >= q.Argc() {
			if !q.Variadic {
				break
			}
			arg = q.Argc() - 1
		}
		lhs := &nstk.Stk[q.Argv[arg]]
		rhs := &stk.Stk[pci.Argv[i]]
		if err := gdk.ValCopy(vm.Kernel.Atoms, lhs, rhs); err != nil {
			return CreateScriptException(mb, stkpc, KindMAL, nil, "%s", err)
		}
		if lhs.Vtype == gdk.TypeBat && lhs.B != 0 {
			vm.Kernel.Pool.IncRef(lhs.B, true)
		}
		arg++
	}
	return RunMALsequence(cntxt, pci.Blk, 1, pci.Blk.Stop, nstk, stk, pci)
}
