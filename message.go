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

//Severity ranks messages for logging and display
type Severity int

//Severities, lowest first
const (
	SevDebug Severity = iota - 1
	SevNormal
	SevWarning
	SevError
	SevCritical
)

func (s Severity) String() string {
	switch s {
	case SevDebug:
		return "debug"
	case SevNormal:
		return "normal"
	case SevWarning:
		return "warning"
	case SevError:
		return "error"
	case SevCritical:
		return "critical"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

//Level maps a Severity onto slog
func (s Severity) Level() slog.Level {
	switch {
	case s <= SevDebug:
		return slog.LevelDebug
	case s == SevNormal:
		return slog.LevelInfo
	case s == SevWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

//MsgType is the one character message type of a hub reply
type MsgType byte

//Message types
const (
	MsgDone    MsgType = ':'
	MsgFailed  MsgType = 'f'
	MsgError   MsgType = '!'
	MsgWarning MsgType = 'w'
	MsgInfo    MsgType = 'i'
	MsgStatus  MsgType = 's'
	MsgQueued  MsgType = '>'
	MsgDebug   MsgType = 'd'
)

const (
	//DoneTypes end a command
	DoneTypes = ":f!"
	//FailTypes end a command unsuccessfully
	FailTypes = "f!"
	//AllTypes is every known message type
	AllTypes = ":f!wisd>"
)

func (t MsgType) String() string { return string(rune(t)) }

//IsDone is true if t ends a command
func (t MsgType) IsDone() bool { return strings.IndexByte(DoneTypes, byte(t)) >= 0 }

//DidFail is true if t ends a command unsuccessfully
func (t MsgType) DidFail() bool { return strings.IndexByte(FailTypes, byte(t)) >= 0 }

/*ClassifyMessageType returns the severity of a message type; unknown types
are errors*/
func ClassifyMessageType(t MsgType) Severity {
	switch t {
	case MsgDone, MsgInfo, MsgStatus, MsgQueued:
		return SevNormal
	case MsgWarning:
		return SevWarning
	case MsgFailed, MsgError:
		return SevError
	case MsgDebug:
		return SevDebug
	default:
		return SevError
	}
}

//ReplyCause tells a reply that came from the hub apart from ones made locally
type ReplyCause int

//Reply causes
const (
	CauseHub          ReplyCause = iota //read from the wire
	CauseNotConnected                   //command issued while disconnected
	CauseWriteFailed                    //command could not be written
	CauseTimeout                        //time limit passed
	CauseAborted                        //aborted by the caller
	CauseDisconnected                   //connection lost while outstanding
	CauseNoFreeID                       //no command ID available
)

func (c ReplyCause) String() string {
	switch c {
	case CauseHub:
		return "hub"
	case CauseNotConnected:
		return "not connected"
	case CauseWriteFailed:
		return "write failed"
	case CauseTimeout:
		return "timeout"
	case CauseAborted:
		return "aborted"
	case CauseDisconnected:
		return "disconnected"
	case CauseNoFreeID:
		return "no free id"
	default:
		return fmt.Sprintf("ReplyCause(%d)", int(c))
	}
}

//KeywordData is one keyword of a message and its raw values
type KeywordData struct {
	Name   string
	Values []string
}

/*Message is one parsed hub line:
  <cmdr> <cmdID> <actor> <msgType> <keyword>=<value>,<value>; <keyword>...*/
type Message struct {
	Cmdr  string
	CmdID int
	Actor string
	Type  MsgType
	Data  []KeywordData
	Text  string //the whole line
	Cause ReplyCause
}

//Severity of the message
func (m *Message) Severity() Severity { return ClassifyMessageType(m.Type) }

//Keyword returns the values of the named keyword (case blind)
func (m *Message) Keyword(name string) ([]string, bool) {
	for _, kd := range m.Data {
		if strings.EqualFold(kd.Name, name) {
			return kd.Values, true
		}
	}
	return nil, false
}

func (m *Message) String() string { return m.Text }

/*ParseMessage parses one hub line. Values may be double quoted, in which case
they may hold ';', ',' and '=' and use backslash escapes. Errors wrap
ErrParse.*/
func ParseMessage(line string) (*Message, error) {
	line = strings.TrimRight(line, "\r\n")
	header, rest := splitFields(line, 4)
	if len(header) < 4 {
		return nil, errors.Wrapf(ErrParse, "%q: header needs cmdr, cmdID, actor and type", line)
	}
	cmdID, err := strconv.Atoi(header[1])
	if err != nil {
		return nil, errors.Wrapf(ErrParse, "%q: bad command ID %q", line, header[1])
	}
	if len(header[3]) != 1 {
		return nil, errors.Wrapf(ErrParse, "%q: bad message type %q", line, header[3])
	}
	msg := &Message{
		Cmdr:  header[0],
		CmdID: cmdID,
		Actor: header[2],
		Type:  MsgType(header[3][0]),
		Text:  line,
	}
	msg.Data, err = parseData(rest)
	if err != nil {
		return nil, errors.Wrapf(err, "%q", line)
	}
	return msg, nil
}

//splitFields splits off up to n whitespace separated fields and returns the remainder
func splitFields(s string, n int) ([]string, string) {
	var fields []string
	for len(fields) < n {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			break
		}
		i := strings.IndexAny(s, " \t")
		if i < 0 {
			fields = append(fields, s)
			s = ""
			break
		}
		fields = append(fields, s[:i])
		s = s[i:]
	}
	return fields, strings.TrimSpace(s)
}

func parseData(s string) ([]KeywordData, error) {
	var data []KeywordData
	items, err := splitUnquoted(s, ';')
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, vals := item, ""
		hasVals := false
		if i := indexUnquoted(item, '='); i >= 0 {
			name, vals, hasVals = strings.TrimSpace(item[:i]), item[i+1:], true
		}
		if name == "" {
			return nil, errors.Wrapf(ErrParse, "keyword with no name in %q", item)
		}
		kd := KeywordData{Name: name, Values: []string{}}
		if hasVals {
			raw, err := splitUnquoted(vals, ',')
			if err != nil {
				return nil, err
			}
			for _, v := range raw {
				kd.Values = append(kd.Values, unquote(strings.TrimSpace(v)))
			}
		}
		data = append(data, kd)
	}
	return data, nil
}

func splitUnquoted(s string, sep byte) ([]string, error) {
	var parts []string
	inQuote, esc, start := false, false, 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case esc:
			esc = false
		case c == '\\' && inQuote:
			esc = true
		case c == '"':
			inQuote = !inQuote
		case c == sep && !inQuote:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if inQuote {
		return nil, errors.Wrapf(ErrParse, "unterminated quote in %q", s)
	}
	return append(parts, s[start:]), nil
}

func indexUnquoted(s string, c byte) int {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case c:
			if !inQuote {
				return i
			}
		}
	}
	return -1
}

func unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	var b strings.Builder
	esc := false
	for _, r := range v[1 : len(v)-1] {
		if !esc && r == '\\' {
			esc = true
			continue
		}
		esc = false
		b.WriteRune(r)
	}
	return b.String()
}
