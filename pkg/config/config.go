// Copyright 2024 aggrcore authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the radix policy's tunables through viper,
// overriding the compile-time constants spec §4.1 fixes ("platform-
// tuned, but fixed at compile time"). The teacher does not carry a
// config layer of its own (pkg/compute has no viper dependency), so
// this is enrichment from the rest of the example pack, whose cobra-
// based CLIs commonly pair spf13/viper for flag/env/file precedence;
// AGGRCORE_-prefixed environment variables let a deployment retune the
// policy without a rebuild while every default reproduces spec.md
// exactly.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// PolicyConfig holds every tunable spec §4.1 names.
type PolicyConfig struct {
	L1KiB               int64
	L2KiB               int64
	L3SharedKiB         int64
	MaxInitialBits      int
	MaxFinalBits        int
	ExternalIncrement   int
	RepartitionFill     float64
	RepartitionStep     int
	LoadFactor          float64
	EntrySlotSize       int64
	MinSinkCapacity     int
	InitialReservation  int64
	BlockSizeBytes      int64
}

// Defaults reproduces spec §4.1's constants unmodified.
func Defaults() PolicyConfig {
	return PolicyConfig{
		L1KiB:              16 * 1024,
		L2KiB:              512 * 1024,
		L3SharedKiB:        768 * 1024,
		MaxInitialBits:     3,
		MaxFinalBits:       7,
		ExternalIncrement:  3,
		RepartitionFill:    1.8,
		RepartitionStep:    2,
		LoadFactor:         0.75,
		EntrySlotSize:      8,
		MinSinkCapacity:    1024,
		InitialReservation: 64 * 1024 * 1024,
		BlockSizeBytes:     256*1024 - 8,
	}
}

// Load reads defaults, then a config file (if configPath is non-empty)
// and AGGRCORE_-prefixed environment variables, viper's usual file-then-
// env-override precedence.
func Load(configPath string) (PolicyConfig, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("AGGRCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("l1_kib", cfg.L1KiB)
	v.SetDefault("l2_kib", cfg.L2KiB)
	v.SetDefault("l3_shared_kib", cfg.L3SharedKiB)
	v.SetDefault("max_initial_bits", cfg.MaxInitialBits)
	v.SetDefault("max_final_bits", cfg.MaxFinalBits)
	v.SetDefault("external_increment", cfg.ExternalIncrement)
	v.SetDefault("repartition_fill", cfg.RepartitionFill)
	v.SetDefault("repartition_step", cfg.RepartitionStep)
	v.SetDefault("load_factor", cfg.LoadFactor)
	v.SetDefault("entry_slot_size", cfg.EntrySlotSize)
	v.SetDefault("min_sink_capacity", cfg.MinSinkCapacity)
	v.SetDefault("initial_reservation", cfg.InitialReservation)
	v.SetDefault("block_size_bytes", cfg.BlockSizeBytes)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}

	cfg.L1KiB = v.GetInt64("l1_kib")
	cfg.L2KiB = v.GetInt64("l2_kib")
	cfg.L3SharedKiB = v.GetInt64("l3_shared_kib")
	cfg.MaxInitialBits = v.GetInt("max_initial_bits")
	cfg.MaxFinalBits = v.GetInt("max_final_bits")
	cfg.ExternalIncrement = v.GetInt("external_increment")
	cfg.RepartitionFill = v.GetFloat64("repartition_fill")
	cfg.RepartitionStep = v.GetInt("repartition_step")
	cfg.LoadFactor = v.GetFloat64("load_factor")
	cfg.EntrySlotSize = v.GetInt64("entry_slot_size")
	cfg.MinSinkCapacity = v.GetInt("min_sink_capacity")
	cfg.InitialReservation = v.GetInt64("initial_reservation")
	cfg.BlockSizeBytes = v.GetInt64("block_size_bytes")

	return cfg, nil
}
