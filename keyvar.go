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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

//RefreshInfo names the command that makes an actor re-send keyword data
type RefreshInfo struct {
	Actor string
	Cmd   string
}

func (ri RefreshInfo) String() string { return ri.Actor + " " + ri.Cmd }

/*KeywordVar is a local cache of one keyword of one actor. The Dispatcher calls
Set whenever a message carries the keyword, and uses RefreshCmd to bring the
cache up to date after a (re)connect. Keywords match case blind.*/
type KeywordVar interface {
	Actor() string
	Keyword() string
	Set(values []string, msg *Message) error
	SetNotCurrent()
	IsCurrent() bool
	RefreshCmd() (RefreshInfo, bool)
}

//Converter turns one raw keyword value into a typed value
type Converter func(raw string) (interface{}, error)

//AsString keeps the raw value
func AsString(raw string) (interface{}, error) { return raw, nil }

//AsInt parses a decimal, 0x hex or 0 octal integer
func AsInt(raw string) (interface{}, error) {
	v, err := strconv.ParseInt(raw, 0, 64)
	if err != nil {
		return nil, err
	}
	return int(v), nil
}

//AsFloat parses a float64
func AsFloat(raw string) (interface{}, error) {
	return strconv.ParseFloat(raw, 64)
}

//AsBool parses T/F, true/false and 1/0 in any case
func AsBool(raw string) (interface{}, error) {
	return strconv.ParseBool(strings.ToLower(raw))
}

/*KeyVarCallback receives a KeyVar's values each time they are set or marked
not current*/
type KeyVarCallback func(values []interface{}, isCurrent bool, kv *KeyVar)

var _ KeywordVar = &KeyVar{}

/*KeyVar is the stock KeywordVar. Each raw value is run through the matching
converter; once the converters run out the last one is used for the rest, so
a single converter handles any number of values. Values that fail conversion
are stored as nil and reported by Set.*/
type KeyVar struct {
	actor      string
	keyword    string
	converters []Converter
	refresh    RefreshInfo
	hasRefresh bool
	values     []interface{}
	isCurrent  bool
	msg        *Message
	callbacks  []KeyVarCallback

	//Logger receives callback panics; slog.Default if nil
	Logger *slog.Logger
}

//NewKeyVar returns a KeyVar for actor's keyword; no converters means AsString
func NewKeyVar(actor, keyword string, converters ...Converter) *KeyVar {
	if len(converters) == 0 {
		converters = []Converter{AsString}
	}
	return &KeyVar{actor: actor, keyword: keyword, converters: converters}
}

/*SetRefreshCmd sets the command that refreshes this keyword. An empty actor
means the KeyVar's own actor. Call it before handing the KeyVar to a
Dispatcher.*/
func (kv *KeyVar) SetRefreshCmd(actor, cmd string) *KeyVar {
	if actor == "" {
		actor = kv.actor
	}
	kv.refresh = RefreshInfo{Actor: actor, Cmd: cmd}
	kv.hasRefresh = cmd != ""
	return kv
}

func (kv *KeyVar) String() string {
	return fmt.Sprintf("KeyVar(%s.%s=%v, current=%v)", kv.actor, kv.keyword, kv.values, kv.isCurrent)
}

//Actor conforms to KeywordVar
func (kv *KeyVar) Actor() string { return kv.actor }

//Keyword conforms to KeywordVar
func (kv *KeyVar) Keyword() string { return kv.keyword }

//IsCurrent conforms to KeywordVar
func (kv *KeyVar) IsCurrent() bool { return kv.isCurrent }

//RefreshCmd conforms to KeywordVar
func (kv *KeyVar) RefreshCmd() (RefreshInfo, bool) { return kv.refresh, kv.hasRefresh }

//Get returns the current values and whether they are current
func (kv *KeyVar) Get() ([]interface{}, bool) {
	return append([]interface{}(nil), kv.values...), kv.isCurrent
}

//Message returns the message that last set the values, or nil
func (kv *KeyVar) Message() *Message { return kv.msg }

//Set conforms to KeywordVar. The first conversion failure is returned.
func (kv *KeyVar) Set(values []string, msg *Message) error {
	var first error
	converted := make([]interface{}, len(values))
	for i, raw := range values {
		conv := kv.converters[len(kv.converters)-1]
		if i < len(kv.converters) {
			conv = kv.converters[i]
		}
		v, err := conv(raw)
		if err != nil {
			if first == nil {
				first = errors.Wrapf(err, "%s.%s value %d %q", kv.actor, kv.keyword, i, raw)
			}
			v = nil
		}
		converted[i] = v
	}
	kv.values = converted
	kv.msg = msg
	kv.isCurrent = true
	kv.notify()
	return first
}

//SetNotCurrent conforms to KeywordVar; values are kept
func (kv *KeyVar) SetNotCurrent() {
	if !kv.isCurrent {
		return
	}
	kv.isCurrent = false
	kv.notify()
}

/*AddCallback adds f to the callbacks run whenever the values are set. If
callNow, f is called right away with the present values.*/
func (kv *KeyVar) AddCallback(f KeyVarCallback, callNow bool) {
	kv.callbacks = append(kv.callbacks, f)
	if callNow {
		kv.call(f)
	}
}

func (kv *KeyVar) notify() {
	for _, f := range kv.callbacks {
		kv.call(f)
	}
}

func (kv *KeyVar) call(f KeyVarCallback) {
	values := append([]interface{}(nil), kv.values...)
	safeCall(kv.Logger, fmt.Sprintf("%s callback", kv), func() { f(values, kv.isCurrent, kv) })
}
