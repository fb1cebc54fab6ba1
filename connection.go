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
	"github.com/rs/xid"
)

//ConnState is the state of a Connection
type ConnState int

//Connection states
const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnAuthorizing
	ConnConnected
	ConnDisconnecting
	ConnFailing
	ConnFailed
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "Disconnected"
	case ConnConnecting:
		return "Connecting"
	case ConnAuthorizing:
		return "Authorizing"
	case ConnConnected:
		return "Connected"
	case ConnDisconnecting:
		return "Disconnecting"
	case ConnFailing:
		return "Failing"
	case ConnFailed:
		return "Failed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

//ReadCallback receives data read by a Connection; in line mode one line without its terminator
type ReadCallback func(conn *Connection, data []byte)

//StateCallback is called whenever a Connection's state or reason changes
type StateCallback func(conn *Connection)

//CallbackID identifies a registered callback so it can be removed
type CallbackID int

//ConnectionOptions configure a Connection
type ConnectionOptions struct {
	Host string
	Port int

	//ReadLines delivers whole lines to read callbacks
	ReadLines bool

	//Name identifies the connection in logs; a fresh xid if empty
	Name string

	//Cmdr is the commander name the hub knows this connection by; Name if empty
	Cmdr string

	/*AuthReadCallback, if set, receives all data while Authorizing. It must
	call AuthDone on success or Disconnect(false, reason) on failure*/
	AuthReadCallback ReadCallback
	AuthReadLines    bool

	//Transport builds sockets; a tcp StreamTransport if nil
	Transport Transport

	Logger *slog.Logger
}

/*Connection is a byte stream link that can be dropped and made again. Each
Connect builds a new Socket through the Transport and translates that
socket's states into the Connection's own:

  Connecting -> [Authorizing ->] Connected -> Disconnecting -> Disconnected
                                           -> Failing       -> Failed

With an AuthReadCallback, a connected socket first puts the Connection in
Authorizing, and only AuthDone makes it Connected. State callbacks are called
only when the state or its reason changes.*/
type Connection struct {
	Host string
	Port int
	Cmdr string

	loop      Loop
	logger    *slog.Logger
	name      string
	transport Transport
	readLines bool
	authCb    ReadCallback
	authLines bool

	sock       Socket
	state      ConnState
	reason     string
	authorized bool

	nextID   CallbackID
	readCbs  []readCbEntry
	stateCbs []stateCbEntry
}

type readCbEntry struct {
	id CallbackID
	f  ReadCallback
}

type stateCbEntry struct {
	id CallbackID
	f  StateCallback
}

//NewConnection returns a Disconnected Connection; call Connect to open it
func NewConnection(loop Loop, opts ConnectionOptions) *Connection {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "conn-" + xid.New().String()
	}
	cmdr := opts.Cmdr
	if cmdr == "" {
		cmdr = name
	}
	transport := opts.Transport
	if transport == nil {
		transport = &StreamTransport{}
	}
	return &Connection{
		Host:      opts.Host,
		Port:      opts.Port,
		Cmdr:      cmdr,
		loop:      loop,
		logger:    logger.With("conn", name),
		name:      name,
		transport: transport,
		readLines: opts.ReadLines,
		authCb:    opts.AuthReadCallback,
		authLines: opts.AuthReadLines,
		sock:      newNullSocket(name, opts.Host, opts.Port),
		state:     ConnDisconnected,
	}
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection(name=%q, host=%s, port=%d, state=%s)", c.name, c.Host, c.Port, c.state)
}

//Name returns the connection name
func (c *Connection) Name() string { return c.name }

//State returns the current state
func (c *Connection) State() ConnState { return c.state }

//FullState returns the state and the reason for it
func (c *Connection) FullState() (ConnState, string) { return c.state, c.reason }

//IsConnected is true when Connected (and authorized, if required)
func (c *Connection) IsConnected() bool { return c.state == ConnConnected }

//IsDisconnected is true when Disconnected or Failed
func (c *Connection) IsDisconnected() bool {
	return c.state == ConnDisconnected || c.state == ConnFailed
}

//IsDone is true when the last transition has finished: Connected, Disconnected or Failed
func (c *Connection) IsDone() bool {
	return c.state == ConnConnected || c.IsDisconnected()
}

//DidFail is true when Failed
func (c *Connection) DidFail() bool { return c.state == ConnFailed }

//MayConnect is true unless Connecting, Authorizing or Connected
func (c *Connection) MayConnect() bool {
	switch c.state {
	case ConnConnecting, ConnAuthorizing, ConnConnected:
		return false
	}
	return true
}

/*Connect opens a new socket to host:port, replacing any earlier one. Empty
host and zero port keep the previous values; timeLimit zero means no limit.
It fails with ErrMayNotConnect while connecting or connected, and ErrNoHost
if no host was ever given.*/
func (c *Connection) Connect(host string, port int, timeLimit time.Duration) error {
	if !c.MayConnect() {
		return errors.Wrapf(ErrMayNotConnect, "%s", c)
	}
	if host == "" && c.Host == "" {
		return errors.Wrapf(ErrNoHost, "%s", c)
	}
	if host != "" {
		c.Host = host
	}
	if port != 0 {
		c.Port = port
	}

	old := c.sock
	c.sock = nil
	if !old.IsDone() {
		old.Close(true, "")
	}

	sock := c.transport.Connect(c.loop, SocketConfig{
		Host:      c.Host,
		Port:      c.Port,
		TimeLimit: timeLimit,
		Name:      c.name,
		Logger:    c.logger,
	})
	c.sock = sock
	c.authorized = c.authCb == nil
	c.setRead(!c.authorized)
	sock.AddStateCallback(c.sockStateChanged)
	c.setState(ConnConnecting, "")
	if sock.State() != SocketConnecting {
		c.sockStateChanged(sock)
	}
	return nil
}

/*AuthDone finishes authorization: reads go to the normal read callbacks and
the Connection becomes Connected. Call it only from the AuthReadCallback.*/
func (c *Connection) AuthDone(msg string) {
	if c.state != ConnAuthorizing {
		c.logger.Warn("AuthDone called while not authorizing", "state", c.state.String())
		return
	}
	c.authorized = true
	c.setRead(false)
	c.setState(ConnConnected, msg)
}

/*Disconnect closes the connection; the final state is Disconnected if ok,
else Failed. A Connection can be opened again with Connect.*/
func (c *Connection) Disconnect(ok bool, reason string) {
	c.sock.Close(ok, reason)
}

//Write sends data; ErrNotConnected unless the socket is connecting or connected
func (c *Connection) Write(data []byte) error { return c.sock.Write(data) }

//WriteLine sends data followed by "\r\n"
func (c *Connection) WriteLine(data string) error { return c.sock.WriteLine(data) }

//AddReadCallback registers f for data read once connected
func (c *Connection) AddReadCallback(f ReadCallback) CallbackID {
	c.nextID++
	c.readCbs = append(c.readCbs, readCbEntry{id: c.nextID, f: f})
	return c.nextID
}

//RemoveReadCallback unregisters a read callback, reporting whether it was found
func (c *Connection) RemoveReadCallback(id CallbackID) bool {
	for i, e := range c.readCbs {
		if e.id == id {
			c.readCbs = append(c.readCbs[:i:i], c.readCbs[i+1:]...)
			return true
		}
	}
	return false
}

/*AddStateCallback registers f for every change of state or reason;
callbacks run in registration order. If callNow, f is also called at once.*/
func (c *Connection) AddStateCallback(f StateCallback, callNow bool) CallbackID {
	c.nextID++
	c.stateCbs = append(c.stateCbs, stateCbEntry{id: c.nextID, f: f})
	if callNow {
		safeCall(c.logger, fmt.Sprintf("%s state callback", c), func() { f(c) })
	}
	return c.nextID
}

//RemoveStateCallback unregisters a state callback, reporting whether it was found
func (c *Connection) RemoveStateCallback(id CallbackID) bool {
	for i, e := range c.stateCbs {
		if e.id == id {
			c.stateCbs = append(c.stateCbs[:i:i], c.stateCbs[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Connection) setRead(forAuth bool) {
	if (forAuth && c.authLines) || (!forAuth && c.readLines) {
		c.sock.SetReadCallback(c.sockReadLine)
	} else {
		c.sock.SetReadCallback(c.sockRead)
	}
}

func (c *Connection) deliver(sock Socket, data []byte) {
	if sock != c.sock {
		return
	}
	if !c.authorized {
		cb := c.authCb
		safeCall(c.logger, fmt.Sprintf("%s auth read callback", c), func() { cb(c, data) })
		return
	}
	for _, e := range append([]readCbEntry(nil), c.readCbs...) {
		f := e.f
		safeCall(c.logger, fmt.Sprintf("%s read callback", c), func() { f(c, data) })
	}
}

func (c *Connection) sockRead(sock Socket) {
	data, err := sock.Read()
	if err != nil {
		c.logger.Debug("read failed", "error", err)
		return
	}
	c.deliver(sock, data)
}

func (c *Connection) sockReadLine(sock Socket) {
	line, ok, err := sock.ReadLine()
	if err != nil {
		c.logger.Debug("read failed", "error", err)
		return
	}
	if !ok {
		return
	}
	c.deliver(sock, line)
}

//translate maps a socket state onto a connection state
func (c *Connection) translate(s SocketState) (ConnState, bool) {
	switch s {
	case SocketConnecting:
		return ConnConnecting, true
	case SocketConnected:
		if c.authorized {
			return ConnConnected, true
		}
		return ConnAuthorizing, true
	case SocketClosing:
		return ConnDisconnecting, true
	case SocketFailing:
		return ConnFailing, true
	case SocketClosed:
		return ConnDisconnected, true
	case SocketFailed:
		return ConnFailed, true
	}
	return 0, false
}

func (c *Connection) sockStateChanged(sock Socket) {
	if sock != c.sock {
		return
	}
	state, ok := c.translate(sock.State())
	if !ok {
		c.logger.Error("unknown socket state", "state", sock.State().String())
		return
	}
	c.setState(state, sock.Reason())
}

func (c *Connection) setState(state ConnState, reason string) {
	oldState, oldReason := c.state, c.reason
	c.state, c.reason = state, reason
	if oldState == c.state && oldReason == c.reason {
		return
	}
	c.logger.Debug("connection state", "state", c.state.String(), "reason", c.reason)
	for _, e := range append([]stateCbEntry(nil), c.stateCbs...) {
		f := e.f
		safeCall(c.logger, fmt.Sprintf("%s state callback", c), func() { f(c) })
	}
}
