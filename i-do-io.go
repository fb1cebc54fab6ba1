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
	"time"
)

/*IDoIO is a generic interface agnostic io devices should conforms to. An IDoIO
should be able to tell others in some human readable string form what the
transport actually is (fmt.Stringer). An IDoIO should alow be able to read,
and write byte slices (io.ReadWriter), and also should be able to Open and Close
the device as will.

Any error returned must be castable to net.Error. Reads may block; the
StreamSocket running an IDoIO does so from its own goroutine.*/
type IDoIO interface {
	fmt.Stringer
	io.ReadWriter
	io.Closer
	Open() error
}

//OpenFunc opens the IDoIO a dial string names
type OpenFunc func(ctx context.Context, timeout time.Duration, dial string) (IDoIO, error)

var known = map[*regexp.Regexp]OpenFunc{
	netClientRe: func(ctx context.Context, dur time.Duration, dial string) (IDoIO, error) {
		return NewNetClient(ctx, dur, dial)
	},
	serialRe: func(ctx context.Context, dur time.Duration, dial string) (IDoIO, error) {
		return NewSerialClient(ctx, dur, dial)
	},
	wsClientRe: func(ctx context.Context, dur time.Duration, dial string) (IDoIO, error) {
		return NewWSClient(ctx, dur, dial)
	},
}

/*NewIDoIO opens the IDoIO matching dial, one of
  tcp|tcp4|tcp6|udp|udp4|udp6://<host>:<port>
  serial|rs232://<device>:<baud>
  ws|wss://<host>:<port>[/path]
timeout bounds the open; ctx stops it*/
func NewIDoIO(ctx context.Context, timeout time.Duration, dial string) (IDoIO, error) {
	for re, open := range known {
		if re.MatchString(dial) {
			return open(ctx, timeout, dial)
		}
	}
	err := newErr(false, false, fmt.Errorf("No known way to create a IDoIO from %q", dial))
	return InvalidIO(err.Error()), err
}

var _ IDoIO = InvalidIO("")

/*InvalidIO is returned in place of an IDoIO that could not be made; every
operation fails with its text*/
type InvalidIO string

func (i InvalidIO) String() string              { return "invalid io: " + string(i) }
func (i InvalidIO) Open() error                 { return newErr(false, false, fmt.Errorf("%s", string(i))) }
func (i InvalidIO) Close() error                { return nil }
func (i InvalidIO) Read(b []byte) (int, error)  { return 0, i.Open() }
func (i InvalidIO) Write(b []byte) (int, error) { return 0, i.Open() }
