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
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

//SocketConfig describes one connection attempt
type SocketConfig struct {
	Host      string
	Port      int
	TimeLimit time.Duration //time allowed to connect; zero is no limit
	Name      string
	Logger    *slog.Logger
}

/*Transport builds Sockets. It is the one seam between the dispatch machinery
and real I/O: StreamTransport talks to the network (or a serial line), and
MemTransport is an in-memory double for tests.

Connect returns a socket in state Connecting. It must not invoke any state
callback before it returns.*/
type Transport interface {
	Connect(loop Loop, cfg SocketConfig) Socket
}

var _ Transport = &MemTransport{}

/*MemTransport records every MemSocket it hands out so tests can drive the far
end by hand*/
type MemTransport struct {
	Sockets []*MemSocket
}

//Connect conforms to Transport
func (mt *MemTransport) Connect(loop Loop, cfg SocketConfig) Socket {
	ms := &MemSocket{Host: cfg.Host, Port: cfg.Port}
	ms.socketCore = socketCore{
		self:   ms,
		loop:   loop,
		logger: cfg.Logger,
		name:   cfg.Name,
		state:  SocketConnecting,
	}
	ms.basicClose = ms.finishClose
	ms.armConnectTimer(cfg.TimeLimit)
	mt.Sockets = append(mt.Sockets, ms)
	return ms
}

//Last returns the most recent socket, or nil
func (mt *MemTransport) Last() *MemSocket {
	if len(mt.Sockets) == 0 {
		return nil
	}
	return mt.Sockets[len(mt.Sockets)-1]
}

/*MemSocket is a Socket whose far end is the test. Writes are recorded,
Receive feeds data in, and Accept, Drop and FailWrites steer the state.*/
type MemSocket struct {
	socketCore
	Host      string
	Port      int
	written   []byte
	writeErr  error
	HoldClose bool //leave the socket in Closing/Failing until Finish is called
}

//Accept completes the connection
func (ms *MemSocket) Accept() { ms.setState(SocketConnected, "") }

//Receive delivers data as if read from the wire
func (ms *MemSocket) Receive(data string) {
	if !ms.IsReady() {
		return
	}
	ms.dataReceived([]byte(data))
}

//Drop ends the connection from the far side
func (ms *MemSocket) Drop(reason string) {
	if ms.IsDone() {
		return
	}
	if ms.state == SocketClosing {
		ms.setState(SocketClosed, reason)
		return
	}
	ms.setState(SocketFailed, reason)
}

//FailWrites makes every later Write fail with err
func (ms *MemSocket) FailWrites(err error) { ms.writeErr = err }

//Finish completes a close held by HoldClose
func (ms *MemSocket) Finish() {
	switch ms.state {
	case SocketClosing:
		ms.setState(SocketClosed, "")
	case SocketFailing:
		ms.setState(SocketFailed, "")
	}
}

func (ms *MemSocket) finishClose() {
	if !ms.HoldClose {
		ms.Finish()
	}
}

//Write conforms to Socket
func (ms *MemSocket) Write(data []byte) error {
	if ms.state != SocketConnecting && ms.state != SocketConnected {
		return errors.Wrapf(ErrNotConnected, "cannot write %q to %s", data, ms)
	}
	if ms.writeErr != nil {
		err := ms.writeErr
		ms.Close(false, err.Error())
		return err
	}
	ms.written = append(ms.written, data...)
	return nil
}

//WriteLine conforms to Socket
func (ms *MemSocket) WriteLine(data string) error { return ms.writeLine(data) }

//Written returns everything written so far
func (ms *MemSocket) Written() string { return string(ms.written) }

//WrittenLines returns the written data split into "\r\n" terminated lines
func (ms *MemSocket) WrittenLines() []string {
	var lines []string
	rest := ms.written
	for {
		i := indexCRLF(rest)
		if i < 0 {
			return lines
		}
		lines = append(lines, string(rest[:i]))
		rest = rest[i+2:]
	}
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}
