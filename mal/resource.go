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
	"os"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"

	"github.com/monetvm/go-mal/gdk"
)

// Running all eligible instructions in parallel creates resource
// contention. The admission controller postpones workers whose aggregate
// memory claims exceed a high watermark: a fraction of installed RAM,
// pre-allocated as a counter pool. The estimate is the storage footprint
// of the table-typed operands; intermediate structures and the result size
// are covered by the caller-supplied hot claim.
//
// When the pool runs dry the instruction is delayed; the in-frame
// interpreter sleeps in delay quanta (preserving program order), an
// external scheduler may instead return the task to its queue. A soft
// fairness layer additionally naps workers when the resident set exceeds
// the watermark, always keeping at least one runnable.

// fallbackMemory stands in when the host memory probe fails.
const fallbackMemory = int64(8) << 30

// AdmissionPool is the process-wide memory admission counter. All updates
// go through compare-and-swap; the pool value never drops below zero and
// equals the configured limit whenever no instruction is in flight.
type AdmissionPool struct {
	limit   int64 // configured watermark, bytes
	pool    int64 // available bytes, CAS-updated
	claims  int32 // workers holding a claim
	running int32 // workers inside the fairness gate

	delayQuantum time.Duration
	timeslice    int64 // microseconds
}

// installedMemory probes the host for its physical memory size.
func installedMemory() int64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm == nil || vm.Total == 0 {
		log.Warn("memory probe failed, using fallback", "fallback", fallbackMemory, "err", err)
		return fallbackMemory
	}
	return int64(vm.Total)
}

// NewAdmissionPool sizes the pool to threshold × installed RAM.
func NewAdmissionPool(cfg Config) *AdmissionPool {
	limit := int64(cfg.MemoryThreshold * float64(installedMemory()))
	p := &AdmissionPool{
		limit:        limit,
		pool:         limit,
		delayQuantum: time.Duration(cfg.DelayQuantumMS) * time.Millisecond,
		timeslice:    cfg.TimesliceUS,
	}
	admissionPoolGauge.Update(limit)
	return p
}

// Limit returns the configured watermark in bytes.
func (p *AdmissionPool) Limit() int64 { return p.limit }

// Available returns the current pool value.
func (p *AdmissionPool) Available() int64 { return atomic.LoadInt64(&p.pool) }

// Claims reports the number of workers currently holding an admission.
func (p *AdmissionPool) Claims() int { return int(atomic.LoadInt32(&p.claims)) }

// Admit atomically checks the pool for argclaim+hotclaim bytes. On
// capacity it deducts and returns true; otherwise the caller must delay.
// A zero claim is admitted unconditionally, and so is the single claimant:
// one expensive instruction may always run, whatever its size.
func (p *AdmissionPool) Admit(argclaim, hotclaim int64) bool {
	total := argclaim + hotclaim
	if total <= 0 {
		return true
	}
	for {
		cur := atomic.LoadInt64(&p.pool)
		claim := total
		if cur < claim {
			if atomic.LoadInt32(&p.claims) > 0 {
				admissionDelayMeter.Mark(1)
				log.Debug("admission delayed", "claim", total, "pool", cur,
					"claims", atomic.LoadInt32(&p.claims))
				return false
			}
			// sole claimant: admit and let the pool floor at zero
			claim = cur
		}
		if atomic.CompareAndSwapInt64(&p.pool, cur, cur-claim) {
			atomic.AddInt32(&p.claims, 1)
			admissionPoolGauge.Update(cur - claim)
			return true
		}
	}
}

// Release returns argclaim+hotclaim bytes to the pool, clamped so the pool
// never exceeds its configured limit.
func (p *AdmissionPool) Release(argclaim, hotclaim int64) {
	claim := argclaim + hotclaim
	if claim <= 0 {
		return
	}
	atomic.AddInt32(&p.claims, -1)
	for {
		cur := atomic.LoadInt64(&p.pool)
		next := cur + claim
		if next > p.limit {
			next = p.limit
		}
		if atomic.CompareAndSwapInt64(&p.pool, cur, next) {
			admissionPoolGauge.Update(next)
			return
		}
	}
}

// MemoryClaim estimates the bytes held by the table-typed argument at
// position i of pci: primary heap, variable heap, and hash index. The
// estimate is clamped to the pool watermark.
func (vm *VM) MemoryClaim(mb *MalBlk, stk *MalStk, pci *InstrRecord, i int) int64 {
	v := &stk.Stk[pci.Arg(i)]
	if v.Vtype != gdk.TypeBat || v.B == 0 {
		return 0
	}
	total := vm.Kernel.Pool.MemoryFootprint(v.B)
	if total > vm.Admission.limit {
		total = vm.Admission.limit
	}
	return total
}

// ArgumentClaim sums the memory claims over all input arguments of pci.
func (vm *VM) ArgumentClaim(mb *MalBlk, stk *MalStk, pci *InstrRecord) int64 {
	var total int64
	for i := pci.Retc; i < pci.Argc(); i++ {
		total += vm.MemoryClaim(mb, stk, pci, i)
	}
	if total > vm.Admission.limit {
		total = vm.Admission.limit
	}
	return total
}

// admitOrDelay blocks the calling worker in delay quanta until the claim
// fits; program order within the frame is preserved by construction.
func (p *AdmissionPool) admitOrDelay(argclaim, hotclaim int64) {
	for !p.Admit(argclaim, hotclaim) {
		time.Sleep(p.delayQuantum)
	}
}

// ResourceFairness naps the calling worker after an instruction that ran
// longer than the timeslice while the resident set exceeds the watermark,
// keeping at least one worker runnable.
func (p *AdmissionPool) ResourceFairness(usec int64) {
	if usec >= 0 && usec <= p.timeslice {
		return
	}
	rss := residentSet()
	if rss >= 0 && rss < p.limit {
		return
	}
	start := time.Now()
	atomic.AddInt32(&p.running, -1)
	for clk := usec / 1000; clk > 0 && atomic.LoadInt32(&p.running) >= 1; clk -= int64(p.delayQuantum / time.Millisecond) {
		if r := residentSet(); r >= 0 && r < p.limit {
			break
		}
		time.Sleep(p.delayQuantum)
	}
	atomic.AddInt32(&p.running, 1)
	fairnessSleepTimer.UpdateSince(start)
}

// enterWorker and leaveWorker bracket a top-level interpreter invocation
// for the fairness accounting.
func (p *AdmissionPool) enterWorker() { atomic.AddInt32(&p.running, 1) }
func (p *AdmissionPool) leaveWorker() { atomic.AddInt32(&p.running, -1) }

var selfProcess *process.Process

// residentSet samples the process resident set; negative when the probe
// is unavailable.
func residentSet() int64 {
	if selfProcess == nil {
		pr, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return -1
		}
		selfProcess = pr
	}
	mi, err := selfProcess.MemoryInfo()
	if err != nil || mi == nil {
		return -1
	}
	return int64(mi.RSS)
}
