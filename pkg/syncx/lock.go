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

// Package syncx carries the reentrant mutex the partition state machine
// needs: a goroutine that already holds a partition's lock during a
// finalize transition must be able to fire that same partition's queued
// wakeups without deadlocking on itself.
package syncx

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// ReentryLock is a mutex a goroutine may lock multiple times without
// blocking on itself; it only releases once Unlock has been called as
// many times as Lock was.
type ReentryLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner atomic.Int64
	count atomic.Uint64
}

func NewReentryLock() *ReentryLock {
	l := &ReentryLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *ReentryLock) Lock() {
	rid := goid.Get()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner.Load() == rid {
		l.count.Add(1)
		return
	}
	for l.owner.Load() != 0 {
		l.cond.Wait()
	}
	l.owner.Store(rid)
	l.count.Store(1)
}

func (l *ReentryLock) Unlock() {
	rid := goid.Get()
	wake := false
	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		if wake {
			l.cond.Signal()
		}
	}()

	if l.count.Load() == 0 || l.owner.Load() != rid {
		panic("unlock of unlocked ReentryLock")
	}
	l.count.Add(^uint64(0))
	if l.count.Load() == 0 {
		l.owner.Store(0)
		wake = true
	}
}

var _ sync.Locker = (*ReentryLock)(nil)
