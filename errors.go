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
	"net"

	"github.com/pkg/errors"
)

var (
	//ErrNotConnected is returned when reading or writing a socket that is not connected
	ErrNotConnected = errors.New("not connected")

	//ErrMayNotConnect is returned by Connect while connecting, authorizing or connected
	ErrMayNotConnect = errors.New("cannot connect: already connecting or connected")

	//ErrNoHost is returned by Connect when no host was given now or at construction
	ErrNoHost = errors.New("cannot connect: no host specified")

	//ErrBytesArgs is returned when a formatted command has too many/few/wrong arguments
	ErrBytesArgs = errors.New("command formatted with incorrect arguments")

	//ErrBytesFormat is returned when a command cannot be put on the wire as a single line
	ErrBytesFormat = errors.New("command contains line terminators")

	//ErrNoFreeID is returned when every ID of a command ID range is outstanding
	ErrNoFreeID = errors.New("no free command ID")

	//ErrParse wraps every failure to parse a hub message
	ErrParse = errors.New("cannot parse message")
)

var _ net.Error = &netErr{}

/*netErr is the net.Error shaped error every IDoIO hands back, so callers can
ask the same two questions of a socket, serial port or websocket*/
type netErr struct {
	timeout, temporary bool
	error
}

func newErr(timeout, temporary bool, err error) *netErr {
	return &netErr{timeout: timeout, temporary: temporary, error: err}
}

func (e *netErr) Timeout() bool   { return e.timeout }
func (e *netErr) Temporary() bool { return e.temporary }
func (e *netErr) Cause() error    { return e.error }
func (e *netErr) Unwrap() error   { return e.error }

/*IsTimeout returns true if err is a net.Error reporting a timeout. It panics on
a nil error: asking a nil error anything is a bug*/
func IsTimeout(err error) bool {
	if err == nil {
		panic("IsTimeout called with a nil error")
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

/*IsTemporary returns true if err is a net.Error reporting a temporary
condition. It panics on a nil error*/
func IsTemporary(err error) bool {
	if err == nil {
		panic("IsTemporary called with a nil error")
	}
	type temporary interface{ Temporary() bool }
	var te temporary
	return errors.As(err, &te) && te.Temporary()
}
