// Copyright 2024 The microdb Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package engine wires the storage, sort, operator-runtime, and planner
// packages into a running table registry and command dispatcher: the
// REPL-facing surface a host process drives.
package engine

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the settings-file shape loaded at startup. Missing settings is
// a configuration error per the error taxonomy: report and exit non-zero.
type Config struct {
	DataDir        string `toml:"data_dir"`
	PageSize       int    `toml:"page_size"`
	PipeCapacity   int    `toml:"pipe_capacity"`
	SortRunLen     int    `toml:"sort_run_len"`
	BlockPages     int    `toml:"block_pages"`
	StatsFile      string `toml:"stats_file"`
	SavedStateFile string `toml:"saved_state_file"`
	AdminAddr      string `toml:"admin_addr"`
}

// DefaultConfig returns the settings a fresh installation runs with absent
// an explicit settings file.
func DefaultConfig() Config {
	return Config{
		DataDir:        "./data",
		PageSize:       4096,
		PipeCapacity:   100,
		SortRunLen:     16,
		BlockPages:     4,
		StatsFile:      "./data/stats.txt",
		SavedStateFile: "./data/tables.list",
		AdminAddr:      "127.0.0.1:8765",
	}
}

// LoadConfig reads a TOML settings file, starting from DefaultConfig and
// overlaying whatever keys path sets.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "loading settings file %s", path)
	}
	return cfg, nil
}
