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

package engine

import errkind "gopkg.in/src-d/go-errors.v1"

// Schema/semantic errors (§7): reported on stderr by the dispatcher, which
// continues accepting further commands.
var (
	ErrUnknownTable  = errkind.NewKind("unknown table: %s")
	ErrTableExists   = errkind.NewKind("table already exists: %s")
	ErrNotInReadMode = errkind.NewKind("table %s has no committed data yet")
)

// ErrBadCommand reports a command the dispatcher couldn't parse at all —
// distinct from a schema/semantic error, but handled the same way: report
// and keep the REPL alive.
var ErrBadCommand = errkind.NewKind("malformed command: %s")
