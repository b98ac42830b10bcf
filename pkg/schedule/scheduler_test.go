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

package schedule

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewAntsScheduler_ReportsThreadCount(t *testing.T) {
	s, err := NewAntsScheduler(4)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 4, s.NumberOfThreads())
}

func Test_NewAntsScheduler_ZeroThreadsClampsToOne(t *testing.T) {
	s, err := NewAntsScheduler(0)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, s.NumberOfThreads())
}

func Test_Submit_RunsEveryTask(t *testing.T) {
	s, err := NewAntsScheduler(2)
	require.NoError(t, err)
	defer s.Close()

	var done atomic.Int64
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Submit(func() { done.Add(1) }))
	}
	s.Wait()
	assert.Equal(t, int64(20), done.Load())
}

func Test_WakeupHandle_FiresOnce(t *testing.T) {
	var calls int
	var lastErr error
	h := NewWakeupHandle(func(err error) {
		calls++
		lastErr = err
	})
	h.Fire(nil)
	h.Fire(assert.AnError)
	assert.Equal(t, 1, calls)
	assert.NoError(t, lastErr)
}

func Test_WakeupHandle_PropagatesError(t *testing.T) {
	got := make(chan error, 1)
	h := NewWakeupHandle(func(err error) { got <- err })
	h.Fire(assert.AnError)
	assert.Equal(t, assert.AnError, <-got)
}
