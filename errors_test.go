package hubio

/*
MIT License

Copyright (c) 2015-2017 University Corporation for Atmospheric Research

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
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetError(t *testing.T) {
	e := newErr(true, true, errors.New("wwoohoo"))
	if e.Error() != "wwoohoo" {
		t.Errorf("netErr should read as its cause, got %q", e.Error())
	}
	if !IsTimeout(e) || !IsTemporary(e) {
		t.Error("Expected e to be a timeout and temporary")
	}

	ee := errors.New("Boring error")
	if IsTimeout(ee) || IsTemporary(ee) {
		t.Error("Expected e to be neither a timeout nor temporary")
	}

	//catch panics
	f := func(p func(error) bool) {
		var e interface{}
		defer func() {
			e = recover()
			if e == nil {
				t.Error("expected a panic on sending a nil error")
			}
		}()
		p(nil)
	}

	f(IsTimeout)
	f(IsTemporary)
}

/*The StreamSocket read loop sees IDoIO errors only after layers of context
have been wrapped around them*/
func TestNetError_Wrapped(t *testing.T) {
	tests := map[string]struct {
		err                error
		timeout, temporary bool
		cause              error
	}{
		"pkg/errors wrap": {
			err:     pkgerrors.Wrap(newErr(true, false, ErrNotConnected), "reading hub"),
			timeout: true,
			cause:   ErrNotConnected,
		},
		"wrapped twice": {
			err:       pkgerrors.WithMessage(pkgerrors.Wrapf(newErr(false, true, ErrParse), "line %d", 3), "dispatch"),
			temporary: true,
			cause:     ErrParse,
		},
		"fmt wrap": {
			err:     fmt.Errorf("serial: %w", newErr(true, true, ErrNoHost)),
			timeout: true, temporary: true,
			cause: ErrNoHost,
		},
		"netErr inside a netErr": {
			err:     newErr(false, false, newErr(true, false, ErrBytesArgs)),
			timeout: false,
			cause:   ErrBytesArgs,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.timeout, IsTimeout(tc.err))
			assert.Equal(t, tc.temporary, IsTemporary(tc.err))
			assert.ErrorIs(t, tc.err, tc.cause)
		})
	}
}

/*Every IDoIO with nothing open reports ErrNotConnected on reads and writes,
never a nil error or a panic*/
func TestNotConnected_IDoIO(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clients := map[string]IDoIO{
		"net":       &NetClient{ctx: ctx, cancel: cancel, network: "tcp", address: "hub:9877"},
		"websocket": &WSClient{ctx: ctx, cancel: cancel, url: "ws://hub:9877/hub"},
	}
	for name, c := range clients {
		t.Run(name, func(t *testing.T) {
			_, err := c.Read(make([]byte, 8))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNotConnected)
			assert.False(t, IsTimeout(err), "the read loop must not retry a missing connection")

			_, err = c.Write([]byte("1 tcc status\r\n"))
			assert.ErrorIs(t, err, ErrNotConnected)
		})
	}

	ns := newNullSocket("idle", "hub", 9877)
	assert.ErrorIs(t, ns.WriteLine("1 tcc status"), ErrNotConnected)
}
