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

// Command microdb runs the REPL described in spec.md §6 against a
// settings file: CREATE/INSERT/DROP/SET OUTPUT/UPDATE STATISTICS/SELECT/
// QUIT, one line at a time from stdin.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/neerajrao/microdb/engine"
	"github.com/neerajrao/microdb/internal/adminserver"
	"github.com/neerajrao/microdb/internal/sqltext"
)

func main() {
	os.Exit(run())
}

func run() int {
	settingsPath := flag.String("settings", "", "path to a TOML settings file (defaults built in if omitted)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg := engine.DefaultConfig()
	if *settingsPath != "" {
		loaded, err := engine.LoadConfig(*settingsPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "microdb: configuration error:", err)
			return 1
		}
		cfg = loaded
	}

	eng, err := engine.Open(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "microdb: startup error:", err)
		return 1
	}

	if cfg.AdminAddr != "" {
		srv := adminserver.New(eng, logger)
		go func() {
			if err := srv.ListenAndServe(cfg.AdminAddr); err != nil {
				logger.WithError(err).Warn("adminserver exited")
			}
		}()
	}

	code := repl(eng, logger, os.Stdin, os.Stdout)

	if err := eng.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "microdb: shutdown error:", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

// outputSink tracks SET OUTPUT's current destination: STDOUT (the
// default), NONE (discard), or a file path reopened on every query.
type outputSink struct {
	mode string // "STDOUT", "NONE", "FILE"
	path string
}

func (o *outputSink) writer(stdout io.Writer) (io.Writer, func() error, error) {
	switch o.mode {
	case "NONE":
		return io.Discard, func() error { return nil }, nil
	case "FILE":
		f, err := os.Create(o.path)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	default:
		return stdout, func() error { return nil }, nil
	}
}

// repl drives the command loop of spec.md §6 from in, writing the prompt,
// parse errors and query results to out, and returns the process exit
// code: 0 on QUIT or end of input, 1 if reading from in fails.
func repl(eng *engine.Engine, logger *logrus.Logger, in io.Reader, out io.Writer) int {
	sink := &outputSink{mode: "STDOUT"}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for {
		fmt.Fprint(out, "microdb> ")
		if !sc.Scan() {
			break
		}
		line := sc.Text()

		cmd, err := sqltext.Parse(line)
		if err == sqltext.ErrEmptyLine {
			continue
		}
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}

		if cmd.Kind == sqltext.CmdQuit {
			return 0
		}

		if fatal := dispatch(eng, sink, cmd, out); fatal {
			return 1
		}
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintln(out, "fatal I/O error reading commands:", err)
		return 1
	}
	return 0
}

// dispatch executes one parsed command, reporting any error it returns on
// stderr and carrying on with the next command. It always returns false:
// no command error, of any class, ends the loop.
func dispatch(eng *engine.Engine, sink *outputSink, cmd *sqltext.Command, out io.Writer) (fatal bool) {
	switch cmd.Kind {
	case sqltext.CmdCreateTable:
		if err := eng.CreateTable(cmd.Table, cmd.Attrs, cmd.SortOn); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}

	case sqltext.CmdInsertInto:
		n, err := eng.InsertInto(cmd.Table, cmd.SourcePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return false
		}
		fmt.Fprintf(out, "%d records loaded\n", n)

	case sqltext.CmdDropTable:
		if err := eng.DropTable(cmd.Table); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}

	case sqltext.CmdSetOutput:
		sink.mode, sink.path = cmd.OutputMode, cmd.OutputPath

	case sqltext.CmdUpdateStatistics:
		if err := eng.UpdateStatistics(cmd.Table); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}

	case sqltext.CmdSelect:
		w, closeFn, err := sink.writer(out)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error opening output:", err)
			return false
		}
		queryErr := eng.Query(cmd.Query, w)
		if err := closeFn(); err != nil {
			fmt.Fprintln(os.Stderr, "error closing output:", err)
		}
		if queryErr != nil {
			fmt.Fprintln(os.Stderr, "error:", queryErr)
		}
	}
	return false
}
