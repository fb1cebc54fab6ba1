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
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemSocket(t *testing.T, loop Loop, limit time.Duration) (*MemTransport, *MemSocket) {
	t.Helper()
	mt := &MemTransport{}
	sock := mt.Connect(loop, SocketConfig{Host: "hub", Port: 9877, TimeLimit: limit, Name: "test"})
	require.Equal(t, SocketConnecting, sock.State())
	return mt, mt.Last()
}

func TestSocket_Lifecycle(t *testing.T) {
	loop := NewManualLoop(epoch)
	_, sock := newMemSocket(t, loop, 0)
	var states []SocketState
	sock.AddStateCallback(func(s Socket) { states = append(states, s.State()) })

	sock.Accept()
	assert.True(t, sock.IsReady())
	sock.Close(true, "bye")
	assert.Equal(t, []SocketState{SocketConnected, SocketClosing, SocketClosed}, states)
	assert.True(t, sock.IsDone())
	assert.False(t, sock.DidFail())
	assert.Equal(t, "bye", sock.Reason())

	//closing a done socket changes nothing and calls nobody
	sock.Close(false, "again")
	assert.Len(t, states, 3)
	assert.Equal(t, SocketClosed, sock.State())
}

func TestSocket_CloseFailing(t *testing.T) {
	loop := NewManualLoop(epoch)
	_, sock := newMemSocket(t, loop, 0)
	sock.HoldClose = true
	sock.Accept()
	sock.Close(false, "broken")
	assert.Equal(t, SocketFailing, sock.State())
	assert.False(t, sock.IsReady())
	assert.ErrorIs(t, sock.Write([]byte("x")), ErrNotConnected)
	sock.Finish()
	assert.Equal(t, SocketFailed, sock.State())
	assert.True(t, sock.DidFail())
	assert.Equal(t, "broken", sock.Reason())
}

func TestSocket_SetStateAfterDonePanics(t *testing.T) {
	loop := NewManualLoop(epoch)
	_, sock := newMemSocket(t, loop, 0)
	sock.Drop("gone")
	require.True(t, sock.IsDone())
	assert.Panics(t, func() { sock.setState(SocketConnected, "") })
}

func TestSocket_CallbackIsolation(t *testing.T) {
	loop := NewManualLoop(epoch)
	_, sock := newMemSocket(t, loop, 0)
	calls := 0
	sock.AddStateCallback(func(Socket) { panic("bad subscriber") })
	sock.AddStateCallback(func(Socket) { calls++ })
	sock.Accept()
	sock.Drop("gone")
	assert.Equal(t, 2, calls, "a panicking callback must not starve the ones after it")
	assert.Nil(t, sock.stateCbs, "callbacks are released once done")
	assert.Nil(t, sock.readCb)
}

func TestSocket_ConnectTimeLimit(t *testing.T) {
	loop := NewManualLoop(epoch)
	_, sock := newMemSocket(t, loop, time.Second)
	loop.Advance(999 * time.Millisecond)
	assert.Equal(t, SocketConnecting, sock.State())
	loop.Advance(time.Millisecond)
	assert.Equal(t, SocketFailed, sock.State())
	assert.Equal(t, "timeout", sock.Reason())

	_, sock = newMemSocket(t, loop, time.Second)
	sock.Accept()
	loop.Advance(2 * time.Second)
	assert.Equal(t, SocketConnected, sock.State(), "connecting in time disarms the limit")
}

func TestSocket_WriteRules(t *testing.T) {
	loop := NewManualLoop(epoch)
	_, sock := newMemSocket(t, loop, 0)
	require.NoError(t, sock.WriteLine("early"), "writes are allowed while connecting")
	sock.Accept()
	require.NoError(t, sock.WriteLine("1 tcc status"))
	assert.Equal(t, []string{"early", "1 tcc status"}, sock.WrittenLines())

	boom := errors.New("pipe burst")
	sock.FailWrites(boom)
	assert.Equal(t, boom, sock.Write([]byte("x")))
	assert.Equal(t, SocketFailed, sock.State())
	assert.Equal(t, "pipe burst", sock.Reason())

	err := sock.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrNotConnected)
	_, _, err = sock.ReadLine()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestNullSocket(t *testing.T) {
	ns := newNullSocket("idle", "hub", 9877)
	assert.True(t, ns.IsDone())
	assert.Equal(t, SocketClosed, ns.State())
	assert.Equal(t, "not connected", ns.Reason())
	assert.ErrorIs(t, ns.Write([]byte("x")), ErrNotConnected)
	assert.ErrorIs(t, ns.WriteLine("x"), ErrNotConnected)
	_, err := ns.Read()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, _, err = ns.ReadLine()
	assert.Contains(t, err.Error(), "hub")
	ns.Close(false, "ignored")
	assert.Equal(t, SocketClosed, ns.State())
}

//lineReader collects lines the way Connection does in line mode
func lineReader(lines *[]string) func(Socket) {
	return func(s Socket) {
		line, ok, err := s.ReadLine()
		if err == nil && ok {
			*lines = append(*lines, string(line))
		}
	}
}

func TestSocket_ReadLine(t *testing.T) {
	loop := NewManualLoop(epoch)
	_, sock := newMemSocket(t, loop, 0)
	var lines []string
	sock.SetReadCallback(lineReader(&lines))
	sock.Accept()

	sock.Receive("one\r\ntwo\rthree\nfour")
	assert.Equal(t, []string{"one"}, lines, "one line per tick")
	loop.RunPending()
	assert.Equal(t, []string{"one", "two", "three"}, lines)

	sock.Receive("\r")
	assert.Equal(t, []string{"one", "two", "three", "four"}, lines)

	//the LF of a CRLF split across reads is not an empty line
	sock.Receive("\nfive\n")
	loop.RunPending()
	assert.Equal(t, []string{"one", "two", "three", "four", "five"}, lines)

	//a bare LF after a completed line is
	sock.Receive("\n")
	loop.RunPending()
	assert.Equal(t, []string{"one", "two", "three", "four", "five", ""}, lines)
}

func TestSocket_ReadLinePartial(t *testing.T) {
	loop := NewManualLoop(epoch)
	_, sock := newMemSocket(t, loop, 0)
	sock.Accept()
	sock.Receive("par")
	line, ok, err := sock.ReadLine()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, line)
	sock.Receive("tial\n")
	line, ok, err = sock.ReadLine()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "partial", string(line))
}

func TestSocket_ReadRaw(t *testing.T) {
	loop := NewManualLoop(epoch)
	_, sock := newMemSocket(t, loop, 0)
	var got []string
	sock.SetReadCallback(func(s Socket) {
		data, err := s.Read()
		if err == nil {
			got = append(got, string(data))
		}
	})
	sock.Accept()
	sock.Receive("a\r\nb")
	sock.Receive("c")
	assert.Equal(t, []string{"a\r\nb", "c"}, got)
}
