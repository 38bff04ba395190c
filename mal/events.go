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
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
)

// InstrEvent is the observation record published per executed instruction
// when a profiler-style service subscribed to the VM. It is the defined
// hook through which auxiliary services (profiler, recycler, discovery)
// watch execution without touching interpreter state.
type InstrEvent struct {
	Module   string
	Function string
	PC       int
	Token    Token
	Start    time.Time
	Duration time.Duration
	Failed   bool
}

type instrSub struct {
	event.Subscription
	vm   *VM
	once sync.Once
}

func (s *instrSub) Unsubscribe() {
	s.once.Do(func() { atomic.AddInt32(&s.vm.instrSubs, -1) })
	s.Subscription.Unsubscribe()
}

// SubscribeInstrEvents registers ch for per-instruction observation
// records; dropping the subscription stops delivery.
func (vm *VM) SubscribeInstrEvents(ch chan<- InstrEvent) event.Subscription {
	atomic.AddInt32(&vm.instrSubs, 1)
	return &instrSub{Subscription: vm.instrFeed.Subscribe(ch), vm: vm}
}

// profileBegin stamps the wall clock when anyone is listening; a zero time
// keeps the fast path free of clock reads.
func (vm *VM) profileBegin() time.Time {
	if atomic.LoadInt32(&vm.instrSubs) == 0 {
		return time.Time{}
	}
	return time.Now()
}

// profileExit publishes the observation record for one instruction.
func (vm *VM) profileExit(mb *MalBlk, pc int, p *InstrRecord, start time.Time, failed bool) {
	if start.IsZero() {
		return
	}
	mod, fcn := mb.ModFcnNames()
	vm.instrFeed.Send(InstrEvent{
		Module:   mod,
		Function: fcn,
		PC:       pc,
		Token:    p.Token,
		Start:    start,
		Duration: time.Since(start),
		Failed:   failed,
	})
}
