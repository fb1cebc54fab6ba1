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
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

//SocketState is the state of one Socket
type SocketState int

//Socket states. Closed and Failed are sinks.
const (
	SocketConnecting SocketState = iota
	SocketConnected
	SocketClosing
	SocketFailing
	SocketClosed
	SocketFailed
)

func (s SocketState) String() string {
	switch s {
	case SocketConnecting:
		return "Connecting"
	case SocketConnected:
		return "Connected"
	case SocketClosing:
		return "Closing"
	case SocketFailing:
		return "Failing"
	case SocketClosed:
		return "Closed"
	case SocketFailed:
		return "Failed"
	default:
		return fmt.Sprintf("SocketState(%d)", int(s))
	}
}

//IsDone is true for the terminal states
func (s SocketState) IsDone() bool { return s == SocketClosed || s == SocketFailed }

/*Socket is one attempt at a byte stream connection, wrapped in a state
machine:

  Connecting -> Connected -> Closing -> Closed
       |            |
       +------------+-----> Failing -> Failed
       +-------------------------------> Failed

Once done (Closed or Failed) a Socket never changes again; reconnecting means
building a new one. State callbacks run synchronously with each transition, in
registration order, and are dropped after the terminal one.*/
type Socket interface {
	fmt.Stringer
	State() SocketState
	Reason() string
	IsReady() bool
	IsDone() bool
	DidFail() bool

	//Read returns all buffered data
	Read() ([]byte, error)
	/*ReadLine returns one buffered line minus its terminator; ok is false if no
	full line is available, in which case nothing is consumed*/
	ReadLine() (line []byte, ok bool, err error)
	/*Write queues data; it fails with ErrNotConnected unless Connecting or
	Connected*/
	Write(data []byte) error
	//WriteLine writes data followed by "\r\n"
	WriteLine(data string) error
	/*Close starts closing: Closing then Closed if ok, Failing then Failed if
	not. It does nothing once done.*/
	Close(ok bool, reason string)

	SetReadCallback(f func(Socket))
	AddStateCallback(f func(Socket))
}

/*socketCore is the state machine and line buffer shared by every Socket
implementation. Implementations set self and basicClose.*/
type socketCore struct {
	self       Socket
	loop       Loop
	logger     *slog.Logger
	name       string
	state      SocketState
	reason     string
	stateCbs   []func(Socket)
	readCb     func(Socket)
	buf        []byte
	swallowLF  bool
	basicClose func()
	connTimer  *Timer
}

func (s *socketCore) String() string {
	return fmt.Sprintf("Socket(name=%q, state=%s)", s.name, s.state)
}

func (s *socketCore) State() SocketState { return s.state }
func (s *socketCore) Reason() string     { return s.reason }
func (s *socketCore) IsReady() bool      { return s.state == SocketConnected }
func (s *socketCore) IsDone() bool       { return s.state.IsDone() }
func (s *socketCore) DidFail() bool      { return s.state == SocketFailed }

func (s *socketCore) SetReadCallback(f func(Socket)) { s.readCb = f }

func (s *socketCore) AddStateCallback(f func(Socket)) {
	s.stateCbs = append(s.stateCbs, f)
}

func (s *socketCore) Close(ok bool, reason string) {
	if s.IsDone() {
		return
	}
	if ok {
		s.setState(SocketClosing, reason)
	} else {
		s.setState(SocketFailing, reason)
	}
	if s.basicClose != nil {
		s.basicClose()
	}
}

//armConnectTimer fails the socket if it is not connected within limit; zero means no limit
func (s *socketCore) armConnectTimer(limit time.Duration) {
	if limit <= 0 {
		return
	}
	s.connTimer = NewTimer(s.loop)
	s.connTimer.Start(limit, func() {
		if !s.IsReady() && !s.IsDone() {
			s.self.Close(false, "timeout")
		}
	})
}

/*setState changes state and notifies every state callback. Calling it once
done is a bug and panics. After a terminal state the callbacks are released.*/
func (s *socketCore) setState(newState SocketState, reason string) {
	if s.IsDone() {
		panic(errors.Errorf("%s: already done; cannot change state to %s", s, newState))
	}
	s.state = newState
	if reason != "" {
		s.reason = reason
	}
	if s.connTimer != nil && (s.IsReady() || s.IsDone()) {
		s.connTimer.Cancel()
	}
	for _, cb := range s.stateCbs {
		cb := cb
		safeCall(s.logger, fmt.Sprintf("%s state callback", s), func() { cb(s.self) })
	}
	if s.IsDone() {
		s.stateCbs = nil
		s.readCb = nil
	}
}

func (s *socketCore) Read() ([]byte, error) {
	if !s.IsReady() {
		return nil, errors.Wrapf(ErrNotConnected, "%s", s)
	}
	data := s.buf
	s.buf = nil
	return data, nil
}

func (s *socketCore) ReadLine() ([]byte, bool, error) {
	if !s.IsReady() {
		return nil, false, errors.Wrapf(ErrNotConnected, "%s", s)
	}
	if s.swallowLF && len(s.buf) > 0 {
		if s.buf[0] == '\n' {
			s.buf = s.buf[1:]
		}
		s.swallowLF = false
	}
	for i, b := range s.buf {
		if b != '\r' && b != '\n' {
			continue
		}
		line := append([]byte(nil), s.buf[:i]...)
		rest := s.buf[i+1:]
		if b == '\r' {
			if len(rest) > 0 && rest[0] == '\n' {
				rest = rest[1:]
			} else if len(rest) == 0 {
				s.swallowLF = true
			}
		}
		s.buf = rest
		if len(s.buf) > 0 {
			s.repostRead()
		}
		return line, true, nil
	}
	return nil, false, nil
}

//repostRead gives the reader another turn later, so one chunk full of lines is consumed one line per tick
func (s *socketCore) repostRead() {
	s.loop.Post(func() {
		if s.IsReady() && len(s.buf) > 0 {
			s.doRead()
		}
	})
}

//dataReceived buffers data and calls the read callback
func (s *socketCore) dataReceived(data []byte) {
	s.buf = append(s.buf, data...)
	s.doRead()
}

func (s *socketCore) doRead() {
	if s.readCb == nil {
		return
	}
	cb := s.readCb
	safeCall(s.logger, fmt.Sprintf("%s read callback", s), func() { cb(s.self) })
}

func (s *socketCore) writeLine(data string) error {
	return s.self.Write([]byte(data + "\r\n"))
}

/*nullSocket stands in before the first Connect. It is permanently Closed and
refuses reads and writes.*/
type nullSocket struct {
	socketCore
	host string
	port int
}

func newNullSocket(name, host string, port int) *nullSocket {
	ns := &nullSocket{host: host, port: port}
	ns.socketCore = socketCore{
		self:   ns,
		name:   name,
		state:  SocketClosed,
		reason: "not connected",
	}
	return ns
}

func (ns *nullSocket) String() string {
	return fmt.Sprintf("NullSocket(name=%q, host=%s, port=%d)", ns.name, ns.host, ns.port)
}

func (ns *nullSocket) Read() ([]byte, error) {
	return nil, errors.Wrapf(ErrNotConnected, "cannot read from %s", ns)
}

func (ns *nullSocket) ReadLine() ([]byte, bool, error) {
	return nil, false, errors.Wrapf(ErrNotConnected, "cannot read from %s", ns)
}

func (ns *nullSocket) Write(data []byte) error {
	return errors.Wrapf(ErrNotConnected, "cannot write %q to %s", data, ns)
}

func (ns *nullSocket) WriteLine(data string) error {
	return errors.Wrapf(ErrNotConnected, "cannot write %q to %s", data, ns)
}
