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

// Config enumerates the process- and session-wide knobs of the abstract
// machine. The TOML field names are the configuration-file surface.
type Config struct {
	// MaxCallDepth aborts nested calls with a stack overflow exception
	// when exceeded.
	MaxCallDepth int `toml:",omitempty"`

	// MemoryThreshold is the fraction of installed RAM the admission pool
	// represents.
	MemoryThreshold float64 `toml:",omitempty"`

	// DelayQuantumMS is the unit of the fairness sleep, in milliseconds.
	DelayQuantumMS int `toml:",omitempty"`

	// TimesliceUS is the instruction-duration threshold below which the
	// fairness layer is skipped, in microseconds.
	TimesliceUS int64 `toml:",omitempty"`

	// QueryTimeoutMS is the per-session hard deadline for one call;
	// zero disables it.
	QueryTimeoutMS int64 `toml:",omitempty"`

	// Debug carries the per-session debug/trace bits.
	Debug byte `toml:",omitempty"`
}

// DefaultConfig holds the shipped defaults.
var DefaultConfig = Config{
	MaxCallDepth:    256,
	MemoryThreshold: 0.8,
	DelayQuantumMS:  5,
	TimesliceUS:     2000,
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	if c.MaxCallDepth <= 0 {
		c.MaxCallDepth = DefaultConfig.MaxCallDepth
	}
	if c.MemoryThreshold <= 0 || c.MemoryThreshold > 1 {
		c.MemoryThreshold = DefaultConfig.MemoryThreshold
	}
	if c.DelayQuantumMS <= 0 {
		c.DelayQuantumMS = DefaultConfig.DelayQuantumMS
	}
	if c.TimesliceUS <= 0 {
		c.TimesliceUS = DefaultConfig.TimesliceUS
	}
	return c
}
