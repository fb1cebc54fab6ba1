package hubio

/*
MIT License

Copyright (c) 2015-2018 University Corporation for Atmospheric Research

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

import (
	"sort"
	"time"
)

var _ Loop = &ManualLoop{}

/*ManualLoop is a Loop with a virtual clock. Nothing runs until the owner calls
RunPending or Advance, which makes every ordering in this package
reproducible in tests.*/
type ManualLoop struct {
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	when      time.Time
	seq       uint64
	f         func()
	cancelled bool
	fired     bool
}

//NewManualLoop returns a ManualLoop whose clock reads start
func NewManualLoop(start time.Time) *ManualLoop {
	return &ManualLoop{now: start}
}

//Now conforms to Loop
func (m *ManualLoop) Now() time.Time { return m.now }

//Post conforms to Loop
func (m *ManualLoop) Post(f func()) { m.Schedule(0, f) }

//Schedule conforms to Loop
func (m *ManualLoop) Schedule(d time.Duration, f func()) func() bool {
	if d < 0 {
		d = 0
	}
	m.seq++
	mt := &manualTimer{when: m.now.Add(d), seq: m.seq, f: f}
	i := sort.Search(len(m.timers), func(i int) bool {
		t := m.timers[i]
		return t.when.After(mt.when) || (t.when.Equal(mt.when) && t.seq > mt.seq)
	})
	m.timers = append(m.timers, nil)
	copy(m.timers[i+1:], m.timers[i:])
	m.timers[i] = mt
	return func() bool {
		if mt.fired || mt.cancelled {
			return false
		}
		mt.cancelled = true
		return true
	}
}

/*Step runs the earliest callback due at or before the current time. It
returns false if there was none.*/
func (m *ManualLoop) Step() bool {
	return m.stepUntil(m.now)
}

func (m *ManualLoop) stepUntil(limit time.Time) bool {
	for len(m.timers) > 0 {
		mt := m.timers[0]
		if mt.when.After(limit) {
			return false
		}
		m.timers = m.timers[1:]
		if mt.cancelled {
			continue
		}
		if mt.when.After(m.now) {
			m.now = mt.when
		}
		mt.fired = true
		mt.f()
		return true
	}
	return false
}

/*RunPending runs everything due now, including work that becomes due now
while running, and returns the number of callbacks run*/
func (m *ManualLoop) RunPending() int {
	n := 0
	for m.Step() {
		n++
	}
	return n
}

/*Advance moves the clock forward by d, running every callback that comes due
in time order, and returns how many ran*/
func (m *ManualLoop) Advance(d time.Duration) int {
	limit := m.now.Add(d)
	n := 0
	for m.stepUntil(limit) {
		n++
	}
	m.now = limit
	return n
}

//Pending returns the number of callbacks not yet run or cancelled
func (m *ManualLoop) Pending() int {
	n := 0
	for _, t := range m.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}
