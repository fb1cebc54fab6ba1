/*Package hubio talks to a hub: a server that relays commands from many
commanders to many actors and relays every reply, and every unsolicited status
message, back. A hub line reads

  <cmdr> <cmdID> <actor> <msgType> <keyword>=<value>,<value>; <keyword>...

and a command goes out as "<cmdID> <actor> <command>".

Layers


Bottom up:
  Loop - one thread of control. Everything below runs on it, so none of it locks.
  Timer - a restartable, cancellable one shot callback on a Loop.
  Socket - one connection attempt as a state machine, built by a Transport.
  Connection - a Socket that can be dropped and made again, with an optional
               authorization step and callbacks registered by ID.
  Registry - outstanding commands by ID; times them out and aborts them.
  Dispatcher - issues Commands, matches replies to them and feeds keyword
               data to KeywordVars, refreshing those after every reconnect.

EventLoop runs a Loop on a goroutine; ManualLoop runs one by hand with a
virtual clock, which makes every test in this package deterministic.

Transports


StreamTransport reaches the hub through an IDoIO, chosen by dial string:
  tcp://<host:port> - Outgoing Sockets of type tcp (either v4 or v6)
  tcp4://<host:port> - Outgoing Sockets of type tcp v4
  tcp6://<host:port> - Outgoing Sockets of type tcp v6
  udp://<host:port> - Outgoing Sockets of type udp (either v4 or v6)
  udp4://<host:port> - Outgoing Sockets of type udp v4
  udp6://<host:port> - Outgoing Sockets of type udp v6
  serial://<device>:<baud> - Serial connection
  rs232://<device>:<baud> - Serial connection
  ws://<host:port>/<path> - Websocket; one text frame per line
  wss://<host:port>/<path> - Websocket over TLS

MemTransport hands out in-memory sockets whose far end is the caller.

Error Handling


Nothing here retries. A lost connection fails every outstanding command and
marks every KeywordVar not current; reconnecting is up to the caller. Failures
to send a command come back as a failed reply to that command, never as an
error return.

*/
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
