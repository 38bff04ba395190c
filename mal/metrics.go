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

// Contains the metrics collected by the abstract machine.

package mal

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	instructionsMeter = metrics.NewRegisteredMeter("mal/interpreter/instructions", nil)
	callsMeter        = metrics.NewRegisteredMeter("mal/interpreter/calls", nil)
	exceptionsMeter   = metrics.NewRegisteredMeter("mal/interpreter/exceptions", nil)
	timeoutsMeter     = metrics.NewRegisteredMeter("mal/interpreter/timeouts", nil)

	factoryYieldMeter    = metrics.NewRegisteredMeter("mal/factory/yields", nil)
	factoryShutdownMeter = metrics.NewRegisteredMeter("mal/factory/shutdowns", nil)

	admissionDelayMeter = metrics.NewRegisteredMeter("mal/resource/delays", nil)
	admissionPoolGauge  = metrics.NewRegisteredGauge("mal/resource/pool", nil)
	fairnessSleepTimer  = metrics.NewRegisteredTimer("mal/resource/fairness", nil)
)
