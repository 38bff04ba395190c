// Copyright 2024 The go-mal Authors
// This file is part of go-mal.
//
// go-mal is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-mal is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-mal. If not, see <http://www.gnu.org/licenses/>.

// mserver hosts the MAL abstract machine: it boots the VM, loads the
// shipped operator and atom modules, and runs a demonstration plan built
// through the in-memory block API.
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/urfave/cli.v1"

	"github.com/monetvm/go-mal/atoms"
	"github.com/monetvm/go-mal/gdk"
	"github.com/monetvm/go-mal/mal"
	"github.com/monetvm/go-mal/stdlib/calc"
)

const clientIdentifier = "mserver"

var (
	memoryThresholdFlag = cli.Float64Flag{
		Name:  "memory-threshold",
		Usage: "Fraction of RAM the admission pool represents",
		Value: mal.DefaultConfig.MemoryThreshold,
	}
	callDepthFlag = cli.IntFlag{
		Name:  "max-call-depth",
		Usage: "Abort with StackOverflow when exceeded",
		Value: mal.DefaultConfig.MaxCallDepth,
	}
	queryTimeoutFlag = cli.Int64Flag{
		Name:  "query-timeout",
		Usage: "Per-session hard deadline for a call, in milliseconds",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = clientIdentifier
	app.Usage = "MAL abstract machine host"
	app.Flags = []cli.Flag{
		configFileFlag,
		memoryThresholdFlag,
		callDepthFlag,
		queryTimeoutFlag,
		verbosityFlag,
	}
	app.Commands = []cli.Command{dumpConfigCommand}
	app.Action = mserver

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mserver(ctx *cli.Context) error {
	handler := log.LvlFilterHandler(
		log.Lvl(ctx.GlobalInt(verbosityFlag.Name)),
		log.StreamHandler(os.Stderr, log.TerminalFormat(false)))
	log.Root().SetHandler(handler)

	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	vm := mal.NewVM(cfg.Mal)
	defer vm.Shutdown()

	if err := calc.Register(vm); err != nil {
		return err
	}
	if err := atoms.RegisterAll(vm.Kernel.Atoms); err != nil {
		return err
	}

	client := vm.NewClient(os.Stdout)
	defer client.Close()

	if err := registerCounterFactory(vm); err != nil {
		return err
	}
	return runDemo(vm, client)
}

// registerCounterFactory publishes the canonical counter factory:
//
//	factory user.counter(seed:int):int;
//	    s := seed;
//	barrier always := true;
//	    yield s;
//	    s := calc.+(s, 1);
//	    redo always;
//	exit always;
//	end counter;
//
// The seed parameter is copied in again on every call and ignored by the
// body; the running state lives in the local s.
func registerCounterFactory(vm *mal.VM) error {
	b := vm.NewBlockBuilder("user", "counter", mal.FactoryToken)
	b.Ret("result", gdk.TypeInt)
	seed := b.Param("seed", gdk.TypeInt)
	s := b.Var("s", gdk.TypeInt)
	always := b.Var("always", gdk.TypeBit)
	one := b.Const(gdk.IntValue(1))
	cTrue := b.Const(gdk.BitValue(true))

	b.Assign([]int{s}, []int{seed})
	b.BarrierAssign(always, cTrue)
	b.Yield(s)
	b.Call([]int{s}, "calc", "+", s, one)
	b.Redo(always)
	b.Exit(always)
	b.End()
	_, err := b.Register()
	return err
}

// runDemo drives four calls through the counter and prints the yields.
func runDemo(vm *mal.VM, client *mal.Client) error {
	b := vm.NewBlockBuilder("user", "main", mal.FunctionToken)
	r := b.Var("r", gdk.TypeInt)
	void := b.Var("v", gdk.TypeVoid)
	seed := b.Const(gdk.IntValue(10))
	for i := 0; i < 4; i++ {
		b.Call([]int{r}, "user", "counter", seed)
		b.Call([]int{void}, "io", "print", r)
	}
	b.End()
	mb, err := b.Freeze()
	if err != nil {
		return err
	}
	log.Info("running demonstration plan", "instructions", mb.Stop)
	return client.Execute(mb)
}
