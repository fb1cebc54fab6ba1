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

package hubio

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

type tstport struct {
	read, write func([]byte) (int, error)
	close       func() error
}

func (tp *tstport) SetMode(*serial.Mode) error { return nil }
func (tp *tstport) Read(p []byte) (int, error) {
	if tp.read != nil {
		return tp.read(p)
	}
	return 0, nil
}
func (tp *tstport) Write(p []byte) (int, error) {
	if tp.write != nil {
		return tp.write(p)
	}
	return 0, nil
}

func (tp *tstport) ResetInputBuffer() error  { return nil }
func (tp *tstport) ResetOutputBuffer() error { return nil }
func (tp *tstport) SetDTR(dtr bool) error    { return nil }
func (tp *tstport) SetRTS(rts bool) error    { return nil }
func (tp *tstport) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}
func (tp *tstport) SetReadTimeout(time.Duration) error { return nil }
func (tp *tstport) Break(time.Duration) error          { return nil }
func (tp *tstport) Drain() error                       { return nil }
func (tp *tstport) Close() error {
	if tp.close != nil {
		return tp.close()
	}
	return nil
}

var _ = serial.Port(&tstport{})

/*hubPort is a serial port with a hub on the far end: every command line
written to it is answered with a done reply carrying Temp, delivered in two
reads so the reply straddles a read boundary*/
func hubPort() *tstport {
	in := make(chan string, 16)
	done := make(chan struct{})
	var once sync.Once
	return &tstport{
		read: func(p []byte) (int, error) {
			select {
			case s := <-in:
				return copy(p, s), nil
			case <-done:
				return 0, io.ErrClosedPipe
			}
		},
		write: func(p []byte) (int, error) {
			for _, line := range strings.Split(strings.TrimSpace(string(p)), "\r\n") {
				f := strings.Fields(line)
				if len(f) < 2 {
					continue
				}
				reply := fmt.Sprintf("me %s %s : Temp=21.5\r\n", f[0], f[1])
				in <- reply[:7]
				in <- reply[7:]
			}
			return len(p), nil
		},
		close: func() error {
			once.Do(func() { close(done) })
			return nil
		},
	}
}

/*openFake is an OpenFunc that puts a SerialClient on port instead of a
device, after checking the dial string names one*/
func openFake(port serial.Port, dev *string) OpenFunc {
	return func(ctx context.Context, _ time.Duration, dial string) (IDoIO, error) {
		m := serialRe.FindStringSubmatch(dial)
		if m == nil {
			return nil, newErr(false, false, fmt.Errorf("not a serial dial string: %q", dial))
		}
		*dev = m[1]
		nctx, cancel := context.WithCancel(ctx)
		return &SerialClient{ctx: nctx, cancel: cancel, conn: port, mode: &serial.Mode{BaudRate: 9600}, dev: m[1]}, nil
	}
}

func TestStreamTransport_Serial(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	loop := NewEventLoop(ctx, nil)
	go loop.Run()
	defer loop.Stop()

	var dev string
	temps := make(chan float64, 1)
	var disp *Dispatcher
	require.NoError(t, loop.Do(ctx, func() {
		conn := NewConnection(loop, ConnectionOptions{
			Host:      "/dev/ttyS0",
			Port:      9600,
			ReadLines: true,
			Cmdr:      "me",
			Transport: &StreamTransport{Scheme: "serial", Open: openFake(hubPort(), &dev)},
		})
		disp = NewDispatcher(loop, conn, DispatcherOptions{Name: "serial"})
		kv := NewKeyVar("tcc", "Temp", AsFloat).SetRefreshCmd("", "status")
		kv.AddCallback(func(values []interface{}, isCurrent bool, _ *KeyVar) {
			if isCurrent {
				temps <- values[0].(float64)
			}
		}, false)
		disp.AddKeyVar(kv)
		assert.NoError(t, conn.Connect("", 0, time.Second))
	}))

	select {
	case got := <-temps:
		assert.Equal(t, 21.5, got)
	case <-ctx.Done():
		t.Fatal("refresh reply never came back over the serial line")
	}
	assert.Equal(t, "/dev/ttyS0", dev)
	require.NoError(t, loop.Do(ctx, func() {
		assert.Zero(t, disp.Registry().Len(), "the refresh command was retired by its reply")
		disp.Connection().Disconnect(true, "")
	}))
}

var loopbackPort = flag.String("serial-port", "", "Serial port with a loopback plug, for the loopback tests")

/*TestSerialLoopback sends a hub line out of a real port and expects it back
through a Connection in line mode*/
func TestSerialLoopback(t *testing.T) {
	if *loopbackPort == "" {
		t.Skip("No serial port defined for loopback tests - skipping")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	loop := NewEventLoop(ctx, nil)
	go loop.Run()
	defer loop.Stop()

	lines := make(chan string, 1)
	require.NoError(t, loop.Do(ctx, func() {
		conn := NewConnection(loop, ConnectionOptions{
			Host:      *loopbackPort,
			Port:      57600,
			ReadLines: true,
			Transport: &StreamTransport{Scheme: "serial"},
		})
		conn.AddReadCallback(func(_ *Connection, data []byte) { lines <- string(data) })
		conn.AddStateCallback(func(c *Connection) {
			if c.IsConnected() {
				assert.NoError(t, c.WriteLine("1 tcc status"))
			}
		}, false)
		assert.NoError(t, conn.Connect("", 0, time.Second))
	}))

	select {
	case got := <-lines:
		assert.Equal(t, "1 tcc status", got)
	case <-ctx.Done():
		t.Fatal("nothing came back through the loopback plug")
	}
}

/*This tests a large chunk of the context failures without needing a serial port*/
func Test_SerialClient_NoConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := NewSerialClient(ctx, 0, "does-not-match-regexp")
	assert.Error(t, err)
	_, err = NewIDoIO(ctx, 0, "bad hair day")
	assert.Error(t, err)

	sc, err := NewSerialClient(ctx, 100, "serial://dontexit:57600")
	require.Error(t, err)
	assert.Equal(t, "serial connection to dontexit:57600 8N1", sc.String())

	b := make([]byte, 16)
	n, err := sc.Read(b)
	assert.Zero(t, n)
	assert.Error(t, err)
	n, err = sc.Write(b)
	assert.Zero(t, n)
	assert.Error(t, err)

	sc.conn = &tstport{close: func() error { return fmt.Errorf("cannot close close port") }}
	assert.Error(t, sc.Close(), "the port's close error is passed on")
	assert.NoError(t, sc.Close(), "closing again does nothing")
	assert.Error(t, sc.Open(), "a closed client stays closed")
}

/*The reader goroutine of a StreamSocket keeps reading through timeouts and
stops on anything else, so the error each port result maps to matters*/
func TestSerial_ReadWriteErrors(t *testing.T) {
	type x struct {
		n         int
		err       error
		dead      bool
		nilPort   bool
		wantErr   bool
		wantRetry bool
	}
	tests := map[string]x{
		"data":                {n: 10},
		"EOF is a timeout":    {n: 5, err: io.EOF, wantErr: true, wantRetry: true},
		"closed pipe is not":  {n: 6, err: io.ErrClosedPipe, wantErr: true},
		"no port":             {nilPort: true, wantErr: true},
		"client already gone": {dead: true, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, cncl := context.WithCancel(context.Background())
			defer cncl()
			port := &tstport{
				read:  func([]byte) (int, error) { return tc.n, tc.err },
				write: func([]byte) (int, error) { return tc.n, tc.err },
			}
			ser := &SerialClient{ctx: ctx, cancel: cncl, conn: port, mode: &serial.Mode{}, dev: "nope"}
			if tc.nilPort {
				ser.conn = nil
			}
			if tc.dead {
				cncl()
			}

			for op, f := range map[string]func([]byte) (int, error){"read": ser.Read, "write": ser.Write} {
				if tc.dead {
					ser.conn = port
				}
				n, err := f(make([]byte, 16))
				if !tc.wantErr {
					assert.NoError(t, err, op)
					assert.Equal(t, tc.n, n, op)
					continue
				}
				require.Error(t, err, op)
				assert.Equal(t, tc.wantRetry, IsTimeout(err), op)
				if !tc.dead && !tc.nilPort {
					assert.Equal(t, tc.n, n, op)
				}
			}
			if tc.dead {
				assert.Nil(t, ser.port(), "a dead client releases its port")
			}
		})
	}
}
