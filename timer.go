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

import "time"

/*Timer is a restartable one-shot timer on a Loop. The zero value is not
usable; get one from NewTimer.*/
type Timer struct {
	loop   Loop
	cancel func() bool
	active bool
}

//NewTimer returns an idle Timer bound to loop
func NewTimer(loop Loop) *Timer {
	return &Timer{loop: loop}
}

/*Start (re)starts the timer, cancelling a pending callback first. Negative
durations are treated as zero.*/
func (t *Timer) Start(d time.Duration, f func()) {
	if d < 0 {
		d = 0
	}
	t.Cancel()
	t.active = true
	t.cancel = t.loop.Schedule(d, func() {
		t.active = false
		f()
	})
}

/*Cancel stops a pending callback. It is safe on a timer that already fired
or never started, and reports whether a callback was pending.*/
func (t *Timer) Cancel() bool {
	if !t.active {
		return false
	}
	t.active = false
	return t.cancel()
}

//IsActive returns true while a callback is pending
func (t *Timer) IsActive() bool { return t.active }
