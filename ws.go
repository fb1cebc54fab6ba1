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
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var _ IDoIO = &WSClient{}
var wsClientRe = regexp.MustCompile("^(ws|wss):\\/\\/([^/]*:[0-9]+)(/.*)?$")

/*WSClient carries a hub link over a websocket, for hubs sitting behind a web
gateway. Each text frame received is one line; a missing line terminator is
added so line mode reads work unchanged. Each Write is sent as one text frame.*/
type WSClient struct {
	url     string
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	conn    *websocket.Conn
	rmu     sync.Mutex
	pending []byte
	wmu     sync.Mutex
}

/*NewWSClient opens a websocket. dial should be in the form of
'ws|wss://<host>:<port>[/path]'; timeout bounds the handshake*/
func NewWSClient(ctx context.Context, timeout time.Duration, dial string) (*WSClient, error) {
	if !wsClientRe.MatchString(dial) {
		return nil, newErr(false, false, fmt.Errorf("dial string not in correct form"))
	}
	nctx, cancel := context.WithCancel(ctx)
	wc := &WSClient{
		url:     dial,
		timeout: timeout,
		ctx:     nctx,
		cancel:  cancel,
	}
	return wc, wc.Open()
}

/*String conforms to the fmt.Stringer interface*/
func (wc *WSClient) String() string {
	return fmt.Sprintf("websocket connection to %v", wc.url)
}

/*Open forcibly closes any previous websocket and dials again*/
func (wc *WSClient) Open() error {
	select {
	case <-wc.ctx.Done():
		return newErr(false, false, wc.ctx.Err())
	default:
	}
	if wc.conn != nil {
		wc.conn.Close()
		wc.conn = nil
	}
	dialer := *websocket.DefaultDialer
	if wc.timeout > 0 {
		dialer.HandshakeTimeout = wc.timeout
	}
	conn, _, err := dialer.DialContext(wc.ctx, wc.url, nil)
	if err != nil {
		return newErr(IsTimeout(err), false, errors.Wrapf(err, "unable to dial %s", wc.url))
	}
	wc.conn = conn
	return nil
}

/*Read conforms to io.Reader. Frame contents that do not fit in b are kept for
the next Read*/
func (wc *WSClient) Read(b []byte) (int, error) {
	wc.rmu.Lock()
	defer wc.rmu.Unlock()
	if len(wc.pending) == 0 {
		if wc.conn == nil {
			return 0, newErr(false, false, ErrNotConnected)
		}
		mt, msg, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, newErr(IsTimeout(err), false, err)
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			return 0, nil
		}
		if n := len(msg); n == 0 || (msg[n-1] != '\n' && msg[n-1] != '\r') {
			msg = append(msg, '\n')
		}
		wc.pending = msg
	}
	n := copy(b, wc.pending)
	wc.pending = wc.pending[n:]
	return n, nil
}

//Write conforms to io.Writer
func (wc *WSClient) Write(b []byte) (int, error) {
	wc.wmu.Lock()
	defer wc.wmu.Unlock()
	select {
	case <-wc.ctx.Done():
		return 0, newErr(false, false, wc.ctx.Err())
	default:
	}
	if wc.conn == nil {
		return 0, newErr(false, false, ErrNotConnected)
	}
	if err := wc.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return 0, newErr(IsTimeout(err), false, err)
	}
	return len(b), nil
}

//Close conforms to io.Closer; the client cannot be re-opened afterwards
func (wc *WSClient) Close() error {
	wc.cancel()
	if wc.conn == nil {
		return nil
	}
	wc.wmu.Lock()
	wc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	wc.wmu.Unlock()
	return wc.conn.Close()
}
