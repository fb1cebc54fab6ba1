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
	"strings"
	"time"

	"github.com/pkg/errors"
)

/*CommandCallback receives replies to a Command. msgType is the reply's type
and cmd the command it answers.*/
type CommandCallback func(msgType MsgType, msg *Message, cmd *Command)

/*Command is one command sent to an actor through the hub, along with the
state of its replies. Fill in the exported fields and hand it to
Dispatcher.ExecuteCmd; a Command runs once.*/
type Command struct {
	//Actor is the actor the command is addressed to
	Actor string

	//Cmd is the command text, sent as-is after the ID and actor
	Cmd string

	/*TimeLimit is the time allowed before the command is failed locally with
	a timeout reply. Zero means no limit*/
	TimeLimit time.Duration

	/*AbortCmd, if set, is sent to the same actor when the command is aborted
	while the connection is up*/
	AbortCmd string

	/*IsRefresh marks commands issued to refresh keyword variables. They take
	their IDs from a range of their own*/
	IsRefresh bool

	/*CallTypes lists the message types the callback wants to see; DoneTypes
	if empty*/
	CallTypes string

	//Callback receives replies; may be nil
	Callback CommandCallback

	id         int
	startTime  time.Time
	maxEndTime time.Time
	lastType   MsgType
	lastMsg    *Message
	done       bool
}

//NewCommand returns a Command for actor with the given text and callback
func NewCommand(actor, cmd string, callback CommandCallback) *Command {
	return &Command{Actor: actor, Cmd: cmd, Callback: callback}
}

/*Commandf returns a Command whose text is fmt.Sprintf(format, v...). If the
result contains any "%!" sequences the arguments did not fit the format and
ErrBytesArgs is returned; line terminators give ErrBytesFormat.

BUG: Current implementation disallows commands with literal "%!" sequences
*/
func Commandf(actor, format string, v ...interface{}) (*Command, error) {
	str := fmt.Sprintf(format, v...)
	if strings.Contains(str, "%!") {
		return nil, errors.Wrapf(ErrBytesArgs, "%q", str)
	}
	if strings.ContainsAny(str, "\r\n") {
		return nil, errors.Wrapf(ErrBytesFormat, "%q", str)
	}
	return &Command{Actor: actor, Cmd: str}, nil
}

/*sanitize turns derenders ASCII control seq to to readable equivalents*/
func sanitize(str string) string {
	return strings.Replace(strings.Replace(str, "\r", "\\r", -1), "\n", "\\n", -1)
}

//String implements the Stringer interface
func (c *Command) String() string {
	return fmt.Sprintf("Command(id=%d, actor=%s, cmd=%q, timeLimit=%v, refresh=%v)",
		c.id, c.Actor, sanitize(c.Cmd), c.TimeLimit, c.IsRefresh)
}

/*Bytes returns the line to send for the command, without terminator:
  <id> <actor> <cmd>
A command holding line terminators cannot be framed and gives
ErrBytesFormat.*/
func (c *Command) Bytes() ([]byte, error) {
	str := fmt.Sprintf("%d %s %s", c.id, c.Actor, c.Cmd)
	if strings.ContainsAny(str, "\r\n") {
		return []byte(str), errors.Wrapf(ErrBytesFormat, "%q", sanitize(str))
	}
	return []byte(str), nil
}

//ID returns the command ID; 0 until the command has been issued
func (c *Command) ID() int { return c.id }

//IsDone returns true once a terminal reply was received
func (c *Command) IsDone() bool { return c.done }

//DidFail returns true if the command finished unsuccessfully
func (c *Command) DidFail() bool { return c.done && c.lastType.DidFail() }

//LastType returns the type of the most recent reply, 0 if none
func (c *Command) LastType() MsgType { return c.lastType }

//LastMessage returns the most recent reply, nil if none
func (c *Command) LastMessage() *Message { return c.lastMsg }

//StartTime returns when the command was issued
func (c *Command) StartTime() time.Time { return c.startTime }

//MaxEndTime returns the time limit as a deadline; zero if unlimited
func (c *Command) MaxEndTime() time.Time { return c.maxEndTime }

func (c *Command) setStartInfo(id int, now time.Time) {
	c.id = id
	c.startTime = now
	if c.TimeLimit > 0 {
		c.maxEndTime = now.Add(c.TimeLimit)
	}
}

func (c *Command) expired(now time.Time) bool {
	return !c.maxEndTime.IsZero() && now.After(c.maxEndTime)
}

/*reply records msg and hands it to the callback if it wants that type. Once a
done type arrives the callback is dropped. Replying to a finished command is
a bug and panics.*/
func (c *Command) reply(msg *Message, onPanic func(descr string, f func())) {
	if c.done {
		panic(errors.Errorf("%s: reply %q to a command that is already done", c, msg.Text))
	}
	c.lastType = msg.Type
	c.lastMsg = msg
	if msg.Type.IsDone() {
		c.done = true
	}
	cb := c.Callback
	if c.done {
		c.Callback = nil
	}
	if cb == nil {
		return
	}
	callTypes := c.CallTypes
	if callTypes == "" {
		callTypes = DoneTypes
	}
	if strings.IndexByte(callTypes, byte(msg.Type)) < 0 {
		return
	}
	onPanic(fmt.Sprintf("%s callback", c), func() { cb(msg.Type, msg, c) })
}
