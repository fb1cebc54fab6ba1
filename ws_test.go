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
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//newWSEcho serves a websocket at /hub that echoes every frame
func newWSEcho(t *testing.T) (host string, port int) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/hub", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Log("upgrade:", err)
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})
	svr := httptest.NewServer(mux)
	t.Cleanup(svr.Close)
	addr := strings.TrimPrefix(svr.URL, "http://")
	i := strings.LastIndex(addr, ":")
	port, err := strconv.Atoi(addr[i+1:])
	require.NoError(t, err)
	return addr[:i], port
}

func TestWSClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	host, port := newWSEcho(t)

	_, err := NewWSClient(ctx, time.Second, "ws://no-port/hub")
	require.Error(t, err)

	wc, err := NewWSClient(ctx, time.Second, "ws://"+host+":"+strconv.Itoa(port)+"/hub")
	require.NoError(t, err)
	assert.Contains(t, wc.String(), "websocket connection to ws://")

	n, err := wc.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	//a frame is one line; what does not fit waits for the next Read
	buf := make([]byte, 4)
	n, err = wc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hell", string(buf[:n]))
	n, err = wc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "o\n", string(buf[:n]))

	require.NoError(t, wc.Close())
	_, err = wc.Write([]byte("late"))
	assert.Error(t, err)
	assert.Error(t, wc.Open(), "a closed client stays closed")
}

func TestStreamTransport_Websocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	host, port := newWSEcho(t)

	loop := NewEventLoop(ctx, nil)
	go loop.Run()
	defer loop.Stop()

	lines := make(chan string, 4)
	up := make(chan struct{})
	require.NoError(t, loop.Do(ctx, func() {
		conn := NewConnection(loop, ConnectionOptions{
			Host:      host,
			Port:      port,
			ReadLines: true,
			Transport: &StreamTransport{Scheme: "ws", Path: "/hub"},
		})
		conn.AddReadCallback(func(_ *Connection, data []byte) { lines <- string(data) })
		conn.AddStateCallback(func(c *Connection) {
			if c.IsConnected() {
				assert.NoError(t, c.WriteLine("1 tcc status"))
				close(up)
			}
		}, false)
		assert.NoError(t, conn.Connect("", 0, time.Second))
	}))

	select {
	case <-up:
	case <-ctx.Done():
		t.Fatal("websocket never connected")
	}
	select {
	case got := <-lines:
		assert.Equal(t, "1 tcc status", got)
	case <-ctx.Done():
		t.Fatal("no echo over the websocket")
	}
}
