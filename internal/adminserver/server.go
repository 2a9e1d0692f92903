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

// Package adminserver exposes a read-only HTTP view of a running engine's
// table registry and cardinality statistics, for operators inspecting a
// live process without going through the REPL.
package adminserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/neerajrao/microdb/engine"
)

// Server wraps an *engine.Engine with a mux.Router exposing it.
type Server struct {
	eng    *engine.Engine
	logger *logrus.Logger
	router *mux.Router
}

// New builds a Server for eng. Call ListenAndServe (or use Router directly
// with a caller-managed http.Server) to start serving.
func New(eng *engine.Engine, logger *logrus.Logger) *Server {
	s := &Server{eng: eng, logger: logger, router: mux.NewRouter()}
	s.router.HandleFunc("/tables", s.handleTables).Methods(http.MethodGet)
	s.router.HandleFunc("/tables/{name}/stats", s.handleTableStats).Methods(http.MethodGet)
	return s
}

// Router returns the server's mux.Router, for embedding in a caller's own
// http.Server or test harness.
func (s *Server) Router() *mux.Router { return s.router }

// ListenAndServe starts serving the admin API on addr. It blocks until the
// listener errors or is closed.
func (s *Server) ListenAndServe(addr string) error {
	if s.logger != nil {
		s.logger.WithField("addr", addr).Info("adminserver: listening")
	}
	return http.ListenAndServe(addr, s.router)
}

type tableInfo struct {
	Name string `json:"name"`
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	names := s.eng.Registry.Names()
	infos := make([]tableInfo, len(names))
	for i, n := range names {
		infos[i] = tableInfo{Name: n}
	}
	writeJSON(w, infos)
}

type statsInfo struct {
	Table  string `json:"table"`
	Tuples int64  `json:"tuples"`
}

func (s *Server) handleTableStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	tuples, ok := s.eng.Stats.TupleCount(name)
	if !ok {
		http.Error(w, "no statistics recorded for "+name, http.StatusNotFound)
		return
	}
	writeJSON(w, statsInfo{Table: name, Tuples: tuples})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
