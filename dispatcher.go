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
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
)

/*LogFunc receives every message the Dispatcher reads or makes up, and its
own warnings. cmdr is empty for the Dispatcher's own warnings.*/
type LogFunc func(text string, sev Severity, actor, cmdr string, cmdID int)

//DispatcherOptions configure a Dispatcher
type DispatcherOptions struct {
	//Name is the actor of messages the Dispatcher makes up; "hubio" if empty
	Name string

	//LogFunc receives messages; if nil they go to Logger
	LogFunc LogFunc

	//Logger is the fallback log; slog.Default if nil
	Logger *slog.Logger

	//Metrics may be nil
	Metrics *Metrics
}

type keyVarKey struct {
	actor   string
	keyword string
}

func keyOf(actor, keyword string) keyVarKey {
	return keyVarKey{actor: actor, keyword: strings.ToLower(keyword)}
}

//keysPrefix marks keyword data replayed from the hub's cache for another actor
const keysPrefix = "keys."

/*Dispatcher sends commands to actors over a Connection, matches the replies
to them by command ID, and keeps KeywordVars up to date from every message
read. The Connection must be in line mode.

A Dispatcher and its Connection run on one Loop and none of their methods
may be called from anywhere else.*/
type Dispatcher struct {
	name    string
	conn    *Connection
	loop    Loop
	logger  *slog.Logger
	logFunc LogFunc
	metrics *Metrics

	registry  *Registry
	refresher *refresher
	keyVars   map[keyVarKey][]KeywordVar
	order     []KeywordVar

	isConnected bool
	readTime    time.Time
	readID      CallbackID
	stateID     CallbackID
}

//NewDispatcher attaches a Dispatcher to conn and starts the timeout scan
func NewDispatcher(loop Loop, conn *Connection, opts DispatcherOptions) *Dispatcher {
	name := opts.Name
	if name == "" {
		name = "hubio"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		name:      name,
		conn:      conn,
		loop:      loop,
		logger:    logger.With("dispatcher", name),
		logFunc:   opts.LogFunc,
		metrics:   opts.Metrics,
		refresher: newRefresher(loop),
		keyVars:   map[keyVarKey][]KeywordVar{},
	}
	d.registry = NewRegistry(loop, RegistryHooks{
		Ready:     func() bool { return d.isConnected },
		MakeReply: d.makeReply,
		LogMsg:    d.logMessage,
		Execute:   d.ExecuteCmd,
	}, d.logger, d.metrics)
	d.refresher.ready = func() bool { return d.isConnected }
	d.refresher.vars = d.vars
	d.refresher.execute = d.ExecuteCmd
	d.refresher.warn = func(text string, cmdID int) { d.LogMsg(text, SevWarning, d.name, "", cmdID) }

	d.isConnected = conn.IsConnected()
	d.metrics.recordConnState(conn.State())
	d.readID = conn.AddReadCallback(d.DoRead)
	d.stateID = conn.AddStateCallback(d.connStateChanged, false)
	d.refresher.refreshAll(true)
	d.registry.CheckTimeouts()
	return d
}

func (d *Dispatcher) String() string {
	return fmt.Sprintf("Dispatcher(name=%q, conn=%s, outstanding=%d)", d.name, d.conn, d.registry.Len())
}

//Name returns the actor name the Dispatcher reports as
func (d *Dispatcher) Name() string { return d.name }

//Connection returns the connection carrying the commands
func (d *Dispatcher) Connection() *Connection { return d.conn }

//Registry returns the outstanding commands
func (d *Dispatcher) Registry() *Registry { return d.registry }

//ReadTime returns when the last line was read; zero if none
func (d *Dispatcher) ReadTime() time.Time { return d.readTime }

//MaxUserCmdID returns the largest user command ID; refresh commands use the next CmdNumWrap IDs
func (d *Dispatcher) MaxUserCmdID() int { return CmdNumWrap }

/*ExecuteCmd gives cmd an ID and sends it. Failures to send are reported as a
failed reply to cmd, never as an error: not connected, no free ID, or a
write error. A Command may be executed only once.*/
func (d *Dispatcher) ExecuteCmd(cmd *Command) {
	if cmd.id != 0 || cmd.done {
		panic(errors.Errorf("%s: command executed twice", cmd))
	}
	if !d.isConnected {
		d.failUnissued(cmd, CauseNotConnected,
			fmt.Sprintf("Failed; Actor=%q; Cmd=%q; Text=\"not connected\"", cmd.Actor, cmd.Cmd))
		return
	}
	id, err := d.registry.Issue(cmd)
	if err != nil {
		d.failUnissued(cmd, CauseNoFreeID,
			fmt.Sprintf("Failed; Actor=%q; Cmd=%q; Text=%q", cmd.Actor, cmd.Cmd, err.Error()))
		return
	}
	line, err := cmd.Bytes()
	if err == nil {
		d.logger.Debug("sending command", "cmdID", id, "actor", cmd.Actor, "cmd", sanitize(cmd.Cmd))
		err = d.conn.WriteLine(string(line))
	}
	if err != nil && !cmd.IsDone() {
		d.registry.fail(cmd, CauseWriteFailed,
			fmt.Sprintf("WriteFailed; Actor=%q; Cmd=%q; Text=%q", cmd.Actor, cmd.Cmd, err.Error()))
	}
}

//failUnissued replies to a command that never made it into the registry
func (d *Dispatcher) failUnissued(cmd *Command, cause ReplyCause, text string) {
	msg := d.makeReply(cmd, cause, text)
	d.registry.reply(cmd, msg, true)
	d.metrics.recordReply(msg, d.registry.Len())
}

//AbortCmdByID aborts an outstanding command; see Registry.Abort
func (d *Dispatcher) AbortCmdByID(id int) { d.registry.Abort(id) }

//CheckCmdTimeouts restarts the scan for timed out commands
func (d *Dispatcher) CheckCmdTimeouts() { d.registry.CheckTimeouts() }

/*AddKeyVar registers kv for its actor and keyword. If the connection is up
and kv has a refresh command, a refresh pass follows shortly. Adding the
same KeywordVar twice is a bug and panics.*/
func (d *Dispatcher) AddKeyVar(kv KeywordVar) {
	key := keyOf(kv.Actor(), kv.Keyword())
	for _, existing := range d.keyVars[key] {
		if existing == kv {
			panic(errors.Errorf("%v already added to %s", kv, d))
		}
	}
	d.keyVars[key] = append(d.keyVars[key], kv)
	d.order = append(d.order, kv)
	d.refresher.add(kv)
	if _, ok := kv.RefreshCmd(); ok && d.isConnected {
		d.refresher.schedule(false)
	}
}

//RemoveKeyVar unregisters kv, reporting whether it was registered
func (d *Dispatcher) RemoveKeyVar(kv KeywordVar) bool {
	key := keyOf(kv.Actor(), kv.Keyword())
	list := d.keyVars[key]
	found := false
	for i, existing := range list {
		if existing == kv {
			list = append(list[:i:i], list[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if len(list) == 0 {
		delete(d.keyVars, key)
	} else {
		d.keyVars[key] = list
	}
	for i, existing := range d.order {
		if existing == kv {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
	d.refresher.remove(kv)
	return true
}

//KeyVars returns the registered KeywordVars in the order they were added
func (d *Dispatcher) KeyVars() []KeywordVar { return d.vars() }

func (d *Dispatcher) vars() []KeywordVar { return append([]KeywordVar(nil), d.order...) }

/*RefreshAllVar starts a new refresh pass, issuing the refresh command of
every group holding a stale KeywordVar. With resetAll every KeywordVar is
first marked not current.*/
func (d *Dispatcher) RefreshAllVar(resetAll bool) { d.refresher.refreshAll(resetAll) }

/*DoRead parses one line from the hub, logs it and dispatches it. It is the
Connection read callback; lines that do not parse are logged as errors and
dropped.*/
func (d *Dispatcher) DoRead(_ *Connection, data []byte) {
	d.readTime = d.loop.Now()
	line := string(data)
	msg, err := ParseMessage(line)
	if err != nil {
		d.metrics.recordParseError()
		d.LogMsg(fmt.Sprintf("CouldNotParse; Msg=%q; Text=%q", line, err.Error()),
			SevError, d.name, "", 0)
		return
	}
	d.metrics.recordMessage(msg.Type)
	d.logMessage(msg)
	safeCall(d.logger, fmt.Sprintf("dispatch %q", line), func() { d.Dispatch(msg) })
}

/*Dispatch sets every KeywordVar named by msg's data and, if this
Dispatcher's commander issued the command msg answers, hands msg to that
command. Data from actor "keys.<actor>" is applied to <actor>. One failing
KeywordVar does not keep the others from being set.*/
func (d *Dispatcher) Dispatch(msg *Message) {
	actor := strings.TrimPrefix(msg.Actor, keysPrefix)
	for _, kd := range msg.Data {
		for _, kv := range d.keyVars[keyOf(actor, kd.Name)] {
			kv, values := kv, kd.Values
			safeCall(d.logger, fmt.Sprintf("set %s.%s", actor, kd.Name), func() {
				if err := kv.Set(values, msg); err != nil {
					d.logger.Warn("keyword value rejected", "actor", actor, "keyword", kd.Name, "error", err)
				}
			})
		}
	}
	if msg.Cmdr == d.conn.Cmdr {
		d.registry.Complete(msg.CmdID, msg)
	}
}

/*MakeMessage builds a message as if from the hub, addressed to this
Dispatcher's commander and sent by its name. data is parsed as keyword data;
if it does not parse the message carries the text alone.*/
func (d *Dispatcher) MakeMessage(cmdID int, msgType MsgType, data string) *Message {
	msg := &Message{
		Cmdr:  d.conn.Cmdr,
		CmdID: cmdID,
		Actor: d.name,
		Type:  msgType,
		Text:  strings.TrimSpace(fmt.Sprintf("%s %d %s %s %s", d.conn.Cmdr, cmdID, d.name, msgType, data)),
	}
	kd, err := parseData(data)
	if err != nil {
		d.logger.Error("could not parse made up message", "text", msg.Text, "error", err)
		return msg
	}
	msg.Data = kd
	return msg
}

func (d *Dispatcher) makeReply(cmd *Command, cause ReplyCause, text string) *Message {
	msg := d.MakeMessage(cmd.id, MsgFailed, text)
	msg.Cause = cause
	return msg
}

/*LogMsg sends text to the LogFunc, or to the fallback logger if there is none
or it panics*/
func (d *Dispatcher) LogMsg(text string, sev Severity, actor, cmdr string, cmdID int) {
	if d.logFunc != nil {
		f := d.logFunc
		if safeCall(d.logger, "log func", func() { f(text, sev, actor, cmdr, cmdID) }) {
			return
		}
	}
	d.logger.Log(context.Background(), sev.Level(), text,
		"severity", sev.String(), "actor", actor, "cmdr", cmdr, "cmdID", cmdID)
}

func (d *Dispatcher) logMessage(msg *Message) {
	d.LogMsg(msg.Text, msg.Severity(), msg.Actor, msg.Cmdr, msg.CmdID)
}

/*connStateChanged starts a refresh pass whenever the connection comes up or
goes down. On the way down every outstanding command is marked lost and
retired without waiting for the next scan.*/
func (d *Dispatcher) connStateChanged(conn *Connection) {
	d.metrics.recordConnState(conn.State())
	was := d.isConnected
	d.isConnected = conn.IsConnected()
	if was == d.isConnected {
		return
	}
	d.refresher.schedule(true)
	if !d.isConnected {
		d.registry.connectionLost()
	}
}

//KeyVarTable renders the registered KeywordVars as a table
func (d *Dispatcher) KeyVarTable() string {
	buf := bytes.NewBufferString("")
	tw := tablewriter.NewWriter(buf)
	tw.SetAutoWrapText(false)
	tw.SetHeader([]string{"Actor", "Keyword", "Current", "Refresh Command"})
	for _, kv := range d.order {
		refresh := "-"
		if ri, ok := kv.RefreshCmd(); ok {
			refresh = ri.String()
		}
		tw.Append([]string{kv.Actor(), kv.Keyword(), fmt.Sprint(kv.IsCurrent()), refresh})
	}
	tw.Render()
	return buf.String()
}

/*Stop detaches the Dispatcher from its Connection and cancels its timers.
Outstanding commands get no further replies.*/
func (d *Dispatcher) Stop() {
	d.conn.RemoveReadCallback(d.readID)
	d.conn.RemoveStateCallback(d.stateID)
	d.registry.Stop()
	d.refresher.stop()
}
