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
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
)

var _ Transport = &StreamTransport{}

/*StreamTransport connects Sockets over a real IDoIO: a network socket, a
serial line or a websocket, chosen by Scheme.*/
type StreamTransport struct {
	Scheme   string   //dial string scheme; "tcp" if empty
	Path     string   //appended after host:port, for websockets
	Open     OpenFunc //NewIDoIO if nil
	ReadSize int      //bytes per read; 4096 if zero
}

func (st *StreamTransport) dial(host string, port int) string {
	scheme := st.Scheme
	if scheme == "" {
		scheme = "tcp"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, host, port, st.Path)
}

//Connect conforms to Transport
func (st *StreamTransport) Connect(loop Loop, cfg SocketConfig) Socket {
	open := st.Open
	if open == nil {
		open = NewIDoIO
	}
	size := st.ReadSize
	if size <= 0 {
		size = 4096
	}
	ctx, cancel := context.WithCancel(context.Background())
	ss := &StreamSocket{
		dial:   st.dial(cfg.Host, cfg.Port),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
	ss.socketCore = socketCore{
		self:   ss,
		loop:   loop,
		logger: cfg.Logger,
		name:   cfg.Name,
		state:  SocketConnecting,
	}
	ss.basicClose = ss.cancel
	ss.armConnectTimer(cfg.TimeLimit)
	go ss.run(open, cfg, size)
	return ss
}

/*StreamSocket is a Socket over an IDoIO. Opening, reading and writing happen
on goroutines of its own; every result is posted to the Loop, so state only
ever changes there. Writes are queued and never block the caller.*/
type StreamSocket struct {
	socketCore
	dial   string
	ctx    context.Context
	cancel context.CancelFunc
	wmu    sync.Mutex
	queue  [][]byte
	wake   chan struct{}
}

func (ss *StreamSocket) String() string {
	return fmt.Sprintf("StreamSocket(name=%q, dial=%s, state=%s)", ss.name, ss.dial, ss.state)
}

func (ss *StreamSocket) run(open OpenFunc, cfg SocketConfig, size int) {
	conn, err := open(ss.ctx, cfg.TimeLimit, ss.dial)
	if err == nil && ss.ctx.Err() != nil {
		err = ss.ctx.Err()
	}
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		ss.loop.Post(func() { ss.connectionLost(err) })
		return
	}
	go func() {
		<-ss.ctx.Done()
		conn.Close()
	}()
	ss.loop.Post(ss.connectionMade)
	go ss.writeLoop(conn)
	ss.readLoop(conn, size)
}

func (ss *StreamSocket) readLoop(conn IDoIO, size int) {
	buf := make([]byte, size)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			ss.loop.Post(func() {
				if ss.IsReady() {
					ss.dataReceived(data)
				}
			})
		}
		if err == nil {
			continue
		}
		if ss.ctx.Err() == nil && IsTimeout(err) {
			continue
		}
		ss.loop.Post(func() { ss.connectionLost(err) })
		return
	}
}

func (ss *StreamSocket) writeLoop(conn IDoIO) {
	for {
		select {
		case <-ss.ctx.Done():
			return
		case <-ss.wake:
		}
		ss.wmu.Lock()
		batch := ss.queue
		ss.queue = nil
		ss.wmu.Unlock()
		for _, data := range batch {
			if n, err := conn.Write(data); err != nil || n != len(data) {
				if err == nil {
					err = errors.Errorf("short write: wrote %d of %d bytes", n, len(data))
				}
				ss.loop.Post(func() { ss.writeFailed(err) })
				return
			}
		}
	}
}

func (ss *StreamSocket) connectionMade() {
	if ss.state != SocketConnecting {
		return
	}
	ss.setState(SocketConnected, "")
}

func (ss *StreamSocket) connectionLost(err error) {
	if ss.IsDone() {
		return
	}
	closedHere := ss.ctx.Err() != nil
	ss.cancel()
	reason := ""
	if err != nil && !closedHere && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		reason = err.Error()
	}
	if ss.state == SocketClosing {
		ss.setState(SocketClosed, reason)
		return
	}
	if reason == "" && ss.state != SocketFailing {
		reason = "connection lost"
	}
	ss.setState(SocketFailed, reason)
}

func (ss *StreamSocket) writeFailed(err error) {
	if ss.IsDone() {
		return
	}
	ss.Close(false, err.Error())
}

//Write conforms to Socket
func (ss *StreamSocket) Write(data []byte) error {
	if ss.state != SocketConnecting && ss.state != SocketConnected {
		return errors.Wrapf(ErrNotConnected, "cannot write %q to %s", data, ss)
	}
	ss.wmu.Lock()
	ss.queue = append(ss.queue, append([]byte(nil), data...))
	ss.wmu.Unlock()
	select {
	case ss.wake <- struct{}{}:
	default:
	}
	return nil
}

//WriteLine conforms to Socket
func (ss *StreamSocket) WriteLine(data string) error { return ss.writeLine(data) }
