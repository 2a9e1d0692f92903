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

package pipe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neerajrao/microdb/record"
)

func TestFIFOAndShutdown(t *testing.T) {
	p := New(4)
	const n = 50

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			p.Insert(record.New([]byte{byte(i)}))
		}
		p.ShutDown()
	}()

	var got []byte
	for {
		r, ok := p.Remove()
		if !ok {
			break
		}
		got = append(got, r.Bits[0])
	}
	wg.Wait()

	require.Len(t, got, n)
	for i := 0; i < n; i++ {
		require.Equal(t, byte(i), got[i])
	}
}

func TestShutdownWakesBlockedRemove(t *testing.T) {
	p := New(1)
	done := make(chan bool)
	go func() {
		_, ok := p.Remove()
		done <- ok
	}()

	p.ShutDown()
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Remove did not wake up after ShutDown")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	p := New(1)
	p.ShutDown()
	p.ShutDown()
	_, ok := p.Remove()
	require.False(t, ok)
}
