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
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
)

const (
	//CmdNumWrap is the largest user command ID; refresh IDs follow it
	CmdNumWrap = 1000

	//ShortInterval lets pending events run before resuming chunked work
	ShortInterval = 50 * time.Millisecond

	//TimeoutInterval is the time between full scans for timed out commands
	TimeoutInterval = 1300 * time.Millisecond
)

//idGen hands out IDs from min through max, wrapping
type idGen struct {
	min, max, next int
}

func newIDGen(min, max int) *idGen { return &idGen{min: min, max: max, next: min} }

func (g *idGen) Next() int {
	id := g.next
	g.next++
	if g.next > g.max {
		g.next = g.min
	}
	return id
}

func (g *idGen) size() int { return g.max - g.min + 1 }

/*Registry owns every outstanding Command from the moment it is issued until
its one terminal reply: from the hub, or made up here on timeout, abort or
loss of the connection.

The timeout scan retires at most one command per turn of the loop and then
yields for ShortInterval, so a large backlog of expired commands cannot starve
other work. Once a scan finds nothing more to retire it sleeps for
PollInterval.*/
type Registry struct {
	loop          Loop
	logger        *slog.Logger
	metrics       *Metrics
	cmds          map[int]*Command
	userIDs       *idGen
	refreshIDs    *idGen
	PollInterval  time.Duration
	ShortInterval time.Duration

	ready     func() bool
	makeReply func(cmd *Command, cause ReplyCause, text string) *Message
	logMsg    func(msg *Message)
	execute   func(cmd *Command)

	pollTimer  *Timer
	chunkTimer *Timer
	cursor     []int
	lost       map[int]*Command //sent on a connection that has since gone
}

/*RegistryHooks connect a Registry to its owner. Ready reports whether the
connection can carry commands; MakeReply builds a locally generated failure
reply; LogMsg logs a locally generated reply; Execute sends an abort command.*/
type RegistryHooks struct {
	Ready     func() bool
	MakeReply func(cmd *Command, cause ReplyCause, text string) *Message
	LogMsg    func(msg *Message)
	Execute   func(cmd *Command)
}

//NewRegistry returns an empty Registry; call CheckTimeouts to start the scan
func NewRegistry(loop Loop, hooks RegistryHooks, logger *slog.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		loop:          loop,
		logger:        logger,
		metrics:       metrics,
		cmds:          map[int]*Command{},
		lost:          map[int]*Command{},
		userIDs:       newIDGen(1, CmdNumWrap),
		refreshIDs:    newIDGen(CmdNumWrap+1, 2*CmdNumWrap),
		PollInterval:  TimeoutInterval,
		ShortInterval: ShortInterval,
		ready:         hooks.Ready,
		makeReply:     hooks.MakeReply,
		logMsg:        hooks.LogMsg,
		execute:       hooks.Execute,
		pollTimer:     NewTimer(loop),
		chunkTimer:    NewTimer(loop),
	}
	if r.ready == nil {
		r.ready = func() bool { return false }
	}
	if r.makeReply == nil {
		r.makeReply = func(cmd *Command, cause ReplyCause, text string) *Message {
			return &Message{CmdID: cmd.id, Actor: cmd.Actor, Type: MsgFailed, Text: text, Cause: cause}
		}
	}
	return r
}

/*Issue assigns cmd the next free ID from the user or refresh range, skipping
IDs still outstanding, stamps its start time and records it. It fails with
ErrNoFreeID only when every ID in the range is outstanding.*/
func (r *Registry) Issue(cmd *Command) (int, error) {
	gen, kind := r.userIDs, "user"
	if cmd.IsRefresh {
		gen, kind = r.refreshIDs, "refresh"
	}
	for i := 0; i < gen.size(); i++ {
		id := gen.Next()
		if _, used := r.cmds[id]; used {
			continue
		}
		cmd.setStartInfo(id, r.loop.Now())
		r.cmds[id] = cmd
		r.metrics.recordIssued(kind, len(r.cmds))
		return id, nil
	}
	return 0, errors.Wrapf(ErrNoFreeID, "%d %s commands outstanding", gen.size(), kind)
}

//Get returns the outstanding command with the given ID
func (r *Registry) Get(id int) (*Command, bool) {
	cmd, ok := r.cmds[id]
	return cmd, ok
}

//Len returns the number of outstanding commands
func (r *Registry) Len() int { return len(r.cmds) }

//IDs returns the outstanding command IDs in ascending order
func (r *Registry) IDs() []int {
	ids := make([]int, 0, len(r.cmds))
	for id := range r.cmds {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

/*Complete hands msg to the outstanding command id. The command stays
outstanding until msg is a done type. Unknown IDs are ignored: replies to
other commanders' commands or to ones already retired land here.*/
func (r *Registry) Complete(id int, msg *Message) {
	cmd, ok := r.cmds[id]
	if !ok {
		return
	}
	r.reply(cmd, msg, false)
}

/*reply delivers msg to cmd, optionally logging it, and retires cmd if it is
done now. Retiring a command that is no longer registered is reported, never
raised.*/
func (r *Registry) reply(cmd *Command, msg *Message, doLog bool) {
	if doLog && r.logMsg != nil {
		r.logMsg(msg)
	}
	cmd.reply(msg, r.safeCall)
	if !cmd.IsDone() || cmd.id == 0 {
		return
	}
	if r.cmds[cmd.id] != cmd {
		r.logger.Error("registry bug: tried to retire a command that is not outstanding", "id", cmd.id, "cmd", cmd.String())
		return
	}
	delete(r.cmds, cmd.id)
	delete(r.lost, cmd.id)
	r.metrics.recordReply(msg, len(r.cmds))
}

//fail synthesizes a failure reply for cmd and delivers it
func (r *Registry) fail(cmd *Command, cause ReplyCause, text string) {
	r.reply(cmd, r.makeReply(cmd, cause, text), true)
}

func (r *Registry) safeCall(descr string, f func()) { safeCall(r.logger, descr, f) }

/*Abort fails outstanding command id with an "Aborted" reply, first sending
its AbortCmd if it has one and the connection is ready. Unknown or finished
commands are left alone.*/
func (r *Registry) Abort(id int) {
	cmd, ok := r.cmds[id]
	if !ok || cmd.IsDone() {
		return
	}
	if cmd.AbortCmd != "" && r.ready() && r.execute != nil {
		r.execute(&Command{Actor: cmd.Actor, Cmd: cmd.AbortCmd})
	}
	r.fail(cmd, CauseAborted, fmt.Sprintf("Aborted; Actor=%q; Cmd=%q", cmd.Actor, cmd.Cmd))
}

/*CheckTimeouts starts a scan of the outstanding commands. Commands outlive
neither their time limit nor the connection: while the connection is not
ready every outstanding command is aborted as disconnected, and so is every
command marked lost, even once the connection is back.*/
func (r *Registry) CheckTimeouts() {
	r.pollTimer.Cancel()
	r.chunkTimer.Cancel()
	r.cursor = r.IDs()
	r.checkRemaining()
}

/*connectionLost marks every outstanding command lost: the hub will never
answer them. The scan retires them as disconnected, one per turn, whether or
not a new connection is up by the time it gets to them. It then starts that
scan.*/
func (r *Registry) connectionLost() {
	for id, cmd := range r.cmds {
		r.lost[id] = cmd
	}
	r.checkSoon()
}

//Lost returns the number of outstanding commands still waiting to be retired as disconnected
func (r *Registry) Lost() int { return len(r.lost) }

//checkSoon starts a scan once the work in hand is finished
func (r *Registry) checkSoon() {
	r.chunkTimer.Cancel()
	r.cursor = nil
	r.pollTimer.Start(0, r.CheckTimeouts)
}

func (r *Registry) checkRemaining() {
	now := r.loop.Now()
	for len(r.cursor) > 0 {
		id := r.cursor[0]
		r.cursor = r.cursor[1:]
		cmd, ok := r.cmds[id]
		if !ok {
			continue
		}
		switch {
		case !r.ready() || r.lost[id] == cmd:
			cmd.AbortCmd = ""
			r.fail(cmd, CauseDisconnected, fmt.Sprintf("Aborted; Actor=%q; Cmd=%q; Text=\"disconnected\"", cmd.Actor, cmd.Cmd))
		case cmd.expired(now):
			r.fail(cmd, CauseTimeout, fmt.Sprintf("Timeout; Actor=%q; Cmd=%q", cmd.Actor, cmd.Cmd))
		default:
			continue
		}
		r.chunkTimer.Start(r.ShortInterval, r.checkRemaining)
		return
	}
	r.pollTimer.Start(r.PollInterval, r.CheckTimeouts)
}

//Stop cancels the timeout scan
func (r *Registry) Stop() {
	r.pollTimer.Cancel()
	r.chunkTimer.Cancel()
	r.cursor = nil
}

//String renders the outstanding commands as a table
func (r *Registry) String() string {
	buf := bytes.NewBufferString("")
	tw := tablewriter.NewWriter(buf)
	tw.SetAutoWrapText(false)
	tw.SetHeader([]string{"ID", "Actor", "Command", "Refresh", "Elapsed", "Time Limit"})
	now := r.loop.Now()
	for _, id := range r.IDs() {
		cmd := r.cmds[id]
		limit := "-"
		if cmd.TimeLimit > 0 {
			limit = cmd.TimeLimit.String()
		}
		tw.Append([]string{
			fmt.Sprint(id),
			cmd.Actor,
			sanitize(cmd.Cmd),
			fmt.Sprint(cmd.IsRefresh),
			now.Sub(cmd.startTime).Round(time.Millisecond).String(),
			limit,
		})
	}
	tw.Render()
	return buf.String()
}
