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
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestCommandf(t *testing.T) {
	cmd, err := Commandf("tcc", "track %d, %d", 10, 20)
	if err != nil {
		t.Fatalf("Command with proper args should not have an error: %v", err)
	}
	if cmd.Actor != "tcc" || cmd.Cmd != "track 10, 20" {
		t.Fatalf("Command rendered to %q %q", cmd.Actor, cmd.Cmd)
	}

	//formats in variables; these mismatches are the point
	twoArgs, oneArg := "track %d, %d", "track %d"
	if _, err = Commandf("tcc", twoArgs, 10); !errors.Is(err, ErrBytesArgs) {
		t.Fatalf("Command with too few args should give ErrBytesArgs, got %v", err)
	}
	if _, err = Commandf("tcc", oneArg, 10, 5); !errors.Is(err, ErrBytesArgs) {
		t.Fatalf("Command with too many args should give ErrBytesArgs, got %v", err)
	}
	if _, err = Commandf("tcc", "track %s\r\nboom", "x"); !errors.Is(err, ErrBytesFormat) {
		t.Fatalf("Command holding a line terminator should give ErrBytesFormat, got %v", err)
	}
}

func TestCommand_Bytes(t *testing.T) {
	cmd := NewCommand("tcc", "status", nil)
	cmd.setStartInfo(42, time.Now())
	d, err := cmd.Bytes()
	if err != nil {
		t.Fatalf("Plain command should not have an error: %v", err)
	}
	if string(d) != "42 tcc status" {
		t.Fatalf("Command rendered to %q", d)
	}

	bad := NewCommand("tcc", "status\nexit", nil)
	if _, err := bad.Bytes(); !errors.Is(err, ErrBytesFormat) {
		t.Fatalf("Multi line command should not render, got %v", err)
	}
}

func TestCommand_String(t *testing.T) {
	cmd := NewCommand("tcc", "a\r\nb", nil)
	cmd.TimeLimit = time.Second
	want := `Command(id=0, actor=tcc, cmd="a\\r\\nb", timeLimit=1s, refresh=false)`
	if cmd.String() != want {
		t.Fatalf("Not formatting '%s' into '%s'", cmd.String(), want)
	}
}

func TestCommand_Expired(t *testing.T) {
	start := time.Unix(1000, 0)
	cmd := NewCommand("tcc", "slew", nil)
	cmd.setStartInfo(1, start)
	if cmd.expired(start.Add(time.Hour)) || !cmd.MaxEndTime().IsZero() {
		t.Fatal("Command without a time limit never expires")
	}

	cmd = NewCommand("tcc", "slew", nil)
	cmd.TimeLimit = time.Second
	cmd.setStartInfo(1, start)
	if cmd.expired(start.Add(time.Second)) {
		t.Fatal("Command expired exactly at its limit")
	}
	if !cmd.expired(start.Add(time.Second + time.Millisecond)) {
		t.Fatal("Command did not expire past its limit")
	}
}

func runNow(_ string, f func()) { f() }

func TestCommand_Reply(t *testing.T) {
	var got []MsgType
	cmd := NewCommand("tcc", "slew", func(mt MsgType, _ *Message, _ *Command) { got = append(got, mt) })

	cmd.reply(&Message{Type: MsgQueued}, runNow)
	cmd.reply(&Message{Type: MsgInfo}, runNow)
	if len(got) != 0 || cmd.IsDone() {
		t.Fatalf("Default call types see done types only; saw %v", got)
	}
	if cmd.LastType() != MsgInfo {
		t.Fatalf("LastType should follow every reply, got %v", cmd.LastType())
	}
	cmd.reply(&Message{Type: MsgFailed}, runNow)
	if len(got) != 1 || got[0] != MsgFailed {
		t.Fatalf("Expected one failed callback, saw %v", got)
	}
	if !cmd.IsDone() || !cmd.DidFail() {
		t.Fatal("Command should be done and failed")
	}

	defer func() {
		if recover() == nil {
			t.Error("Replying to a finished command should panic")
		}
	}()
	cmd.reply(&Message{Type: MsgDone}, runNow)
}

func TestCommand_CallTypes(t *testing.T) {
	var got []string
	cmd := NewCommand("tcc", "slew", func(mt MsgType, _ *Message, _ *Command) { got = append(got, mt.String()) })
	cmd.CallTypes = AllTypes
	for _, mt := range []MsgType{MsgQueued, MsgInfo, MsgWarning, MsgDone} {
		cmd.reply(&Message{Type: mt}, runNow)
	}
	if strings.Join(got, "") != ">iw:" {
		t.Fatalf("Expected every reply, saw %v", got)
	}
	if cmd.DidFail() || cmd.Callback != nil {
		t.Fatal("Successful command should release its callback")
	}
}
