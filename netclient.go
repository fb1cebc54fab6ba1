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
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var _ IDoIO = &NetClient{}
var netClientRe = regexp.MustCompile("^(tcp|tcp4|tcp6|udp|udp4|udp6):\\/\\/(.*:[a-zA-Z0-9]*)$")

/*NewNetClient opens a connection to a hub or other remote host.
dial should be in the form of: 'tcp|udp[46]{0,1}://<host>:<port>'

Timeout bounds the dial. Reads and writes carry no deadline unless one is set
with SetDeadlines: a hub link is long lived and quiet stretches are normal.
When a deadline is set, Read() and Write() return a timeout error that should
be checked via IsTimeout:

  nc, _ := NewNetClient(ctx, 100 * time.Millisecond, "tcp://localhost:4242")
  nc.SetDeadlines(time.Second)
  ...
  n, e := nc.Read(b)
  if e != nil && IsTimeout(e) {
    ...
  }
*/
func NewNetClient(ctx context.Context, timeout time.Duration, dial string) (*NetClient, error) {
	matches := netClientRe.FindStringSubmatch(dial)
	if matches == nil {
		return nil, newErr(false, false, errors.Errorf("dial string %q not in correct form", dial))
	}
	nctx, cancel := context.WithCancel(ctx)
	nc := &NetClient{
		network: matches[1],
		address: matches[2],
		timeout: timeout,
		ctx:     nctx,
		cancel:  cancel,
	}
	return nc, nc.Open()
}

/*NetClient is the IDoIO under a StreamSocket for hubs reached over the
network. A StreamSocket reads, writes and closes it from different
goroutines, so the connection is guarded. It provides access under the
following URI Regimes:
  tcp://
  tcp4://
  tcp6://
  udp://
  udp4://
  udp6://
*/
type NetClient struct {
	network, address string
	cancel           context.CancelFunc
	ctx              context.Context
	timeout          time.Duration

	mu        sync.Mutex
	rwtimeout time.Duration
	conn      net.Conn
}

/*String conforms to the fmt.Stringer interface*/
func (nc *NetClient) String() string {
	return fmt.Sprintf("%v connection to %v", nc.network, nc.address)
}

//SetDeadlines applies d as a deadline to every later Read and Write; zero removes it
func (nc *NetClient) SetDeadlines(d time.Duration) {
	nc.mu.Lock()
	nc.rwtimeout = d
	nc.mu.Unlock()
}

//current returns the open connection, nil if none, and the deadline to apply
func (nc *NetClient) current() (net.Conn, time.Duration) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.conn, nc.rwtimeout
}

/*Open drops any previous connection, ignoring errors, and dials again. It
fails once the client's context is done.*/
func (nc *NetClient) Open() error {
	select {
	case <-nc.ctx.Done():
		return newErr(false, false, nc.ctx.Err())
	default:
	}
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.conn != nil {
		nc.conn.Close()
		nc.conn = nil
	}
	dialer := net.Dialer{
		Timeout:   nc.timeout,
		KeepAlive: 1 * time.Second,
	}
	conn, err := dialer.DialContext(nc.ctx, nc.network, nc.address)
	if err != nil {
		return newErr(IsTimeout(err), false, errors.Wrapf(err, "unable to reach hub at %s", nc.address))
	}
	nc.conn = conn
	return nil
}

/*Read conforms to io.Reader, but immediately returns upon ctx
destruction after closing the underling transport*/
func (nc *NetClient) Read(b []byte) (int, error) {
	select {
	case <-nc.ctx.Done():
		defer nc.Close()
		return 0, newErr(false, false, nc.ctx.Err())
	default:
	}
	conn, d := nc.current()
	if conn == nil {
		return 0, newErr(false, false, ErrNotConnected)
	}
	if d > 0 {
		conn.SetReadDeadline(time.Now().Add(d))
	}
	return conn.Read(b) //net.Conn errors already conform to net.Error
}

/*Write conforms to io.Writer, but immediately returns upon ctx
destruction after closing the underling transport*/
func (nc *NetClient) Write(b []byte) (int, error) {
	select {
	case <-nc.ctx.Done():
		defer nc.Close()
		return 0, newErr(false, false, nc.ctx.Err())
	default:
	}
	conn, d := nc.current()
	if conn == nil {
		return 0, newErr(false, false, ErrNotConnected)
	}
	if d > 0 {
		conn.SetWriteDeadline(time.Now().Add(d))
	}
	return conn.Write(b)
}

/*Close conforms to io.Closer. It cancels the client's context, so the client
cannot be re-opened afterwards; closing again is a no-op*/
func (nc *NetClient) Close() error {
	nc.cancel()
	nc.mu.Lock()
	conn := nc.conn
	nc.conn = nil
	nc.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
