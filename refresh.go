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
	"fmt"
	"sort"
	"strings"
	"time"
)

//RefreshTimeLimit is the time limit given to every refresh command
const RefreshTimeLimit = 20 * time.Second

/*refresher keeps KeywordVars current. It groups them by refresh command, so
keywords sharing a command cost one round trip, and issues one group per tick
so a large table never floods the hub in one burst.*/
type refresher struct {
	ready   func() bool
	vars    func() []KeywordVar
	execute func(cmd *Command)
	warn    func(text string, cmdID int)

	groups    map[RefreshInfo][]KeywordVar
	inFlight  map[RefreshInfo]*Command
	pending   []RefreshInfo
	interval  time.Duration
	allTimer  *Timer
	nextTimer *Timer
}

func newRefresher(loop Loop) *refresher {
	return &refresher{
		groups:    map[RefreshInfo][]KeywordVar{},
		inFlight:  map[RefreshInfo]*Command{},
		interval:  ShortInterval,
		allTimer:  NewTimer(loop),
		nextTimer: NewTimer(loop),
	}
}

//add files kv under its refresh command
func (r *refresher) add(kv KeywordVar) {
	if ri, ok := kv.RefreshCmd(); ok {
		r.groups[ri] = append(r.groups[ri], kv)
	}
}

//remove takes kv out of its group, dropping the group once empty
func (r *refresher) remove(kv KeywordVar) {
	ri, ok := kv.RefreshCmd()
	if !ok {
		return
	}
	group := r.groups[ri]
	for i, member := range group {
		if member == kv {
			group = append(group[:i:i], group[i+1:]...)
			break
		}
	}
	if len(group) == 0 {
		delete(r.groups, ri)
		return
	}
	r.groups[ri] = group
}

//rebuild regroups every registered KeywordVar
func (r *refresher) rebuild() {
	r.groups = map[RefreshInfo][]KeywordVar{}
	for _, kv := range r.vars() {
		r.add(kv)
	}
}

//schedule starts a refresh pass after a short delay
func (r *refresher) schedule(resetAll bool) {
	r.allTimer.Start(r.interval, func() { r.refreshAll(resetAll) })
}

/*refreshAll abandons any pass underway and starts another. With resetAll every
KeywordVar is first marked not current and every stale group is sent again.
Without it, groups whose refresh command is still outstanding are skipped.
Refresh commands already sent are left to finish or time out.*/
func (r *refresher) refreshAll(resetAll bool) {
	r.stop()
	if resetAll {
		for _, kv := range r.vars() {
			kv.SetNotCurrent()
		}
	}
	r.rebuild()
	r.pending = r.pending[:0]
	for ri, group := range r.groups {
		if _, busy := r.inFlight[ri]; busy && !resetAll {
			continue
		}
		if anyStale(group) {
			r.pending = append(r.pending, ri)
		}
	}
	sort.Slice(r.pending, func(i, j int) bool {
		a, b := r.pending[i], r.pending[j]
		if a.Actor != b.Actor {
			return a.Actor < b.Actor
		}
		return a.Cmd < b.Cmd
	})
	r.tick()
}

//tick issues the next pending refresh command, if connected, then yields
func (r *refresher) tick() {
	if !r.ready() || len(r.pending) == 0 {
		r.pending = nil
		return
	}
	ri := r.pending[0]
	r.pending = r.pending[1:]
	cmd := &Command{
		Actor:     ri.Actor,
		Cmd:       ri.Cmd,
		TimeLimit: RefreshTimeLimit,
		IsRefresh: true,
		Callback:  r.cmdDone,
	}
	r.inFlight[ri] = cmd
	r.execute(cmd)
	r.nextTimer.Start(r.interval, r.tick)
}

func (r *refresher) stop() {
	r.allTimer.Cancel()
	r.nextTimer.Cancel()
	r.pending = nil
}

//cmdDone complains about refresh commands that left keywords stale
func (r *refresher) cmdDone(_ MsgType, _ *Message, cmd *Command) {
	if !cmd.IsDone() {
		return
	}
	ri := RefreshInfo{Actor: cmd.Actor, Cmd: cmd.Cmd}
	if r.inFlight[ri] == cmd {
		delete(r.inFlight, ri)
	}
	group := r.groups[ri]
	switch {
	case cmd.DidFail():
		r.warn(fmt.Sprintf("Refresh command %s %s failed; keyVars not refreshed: %s",
			cmd.Actor, cmd.Cmd, keywordList(group, false)), cmd.ID())
	case len(group) > 0:
		if missing := keywordList(group, true); missing != "" {
			r.warn(fmt.Sprintf("No refresh data for %s keyVars: %s", group[0].Actor(), missing), 0)
		}
	default:
		r.warn(fmt.Sprintf("refresh command %s %s finished but no keyVars found", cmd.Actor, cmd.Cmd), 0)
	}
}

func anyStale(group []KeywordVar) bool {
	for _, kv := range group {
		if !kv.IsCurrent() {
			return true
		}
	}
	return false
}

//keywordList is the sorted, comma separated keywords of group; only stale ones if staleOnly
func keywordList(group []KeywordVar, staleOnly bool) string {
	var names []string
	for _, kv := range group {
		if staleOnly && kv.IsCurrent() {
			continue
		}
		names = append(names, kv.Keyword())
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
