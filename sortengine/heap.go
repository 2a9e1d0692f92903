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

package sortengine

import (
	"container/heap"

	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
)

// mergeItem is one run's current front-of-queue record, keyed for the
// phase-2 k-way merge heap over (run index, front record) pairs.
type mergeItem struct {
	run int
	rec *record.Record
}

type mergeHeap struct {
	items []mergeItem
	order predicate.OrderSpec
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	return predicate.Compare(h.order, h.items[i].rec, h.items[j].rec) < 0
}

func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(mergeItem)) }

func (h *mergeHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

var _ heap.Interface = (*mergeHeap)(nil)
