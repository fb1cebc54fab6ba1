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
	"github.com/prometheus/client_golang/prometheus"
)

/*Metrics counts the traffic of one Dispatcher. A nil *Metrics is valid and
records nothing.*/
type Metrics struct {
	commandsIssued   *prometheus.CounterVec //by kind: user, refresh
	replies          *prometheus.CounterVec //terminal replies by outcome
	outstanding      prometheus.Gauge
	messagesReceived *prometheus.CounterVec //by message type
	parseErrors      prometheus.Counter
	connState        prometheus.Gauge //ConnState as a number
}

/*NewMetrics creates the metrics for the dispatcher called name and registers
them with reg. A nil reg disables metrics and returns nil.*/
func NewMetrics(reg prometheus.Registerer, name string) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	labels := prometheus.Labels{"dispatcher": name}
	m := &Metrics{
		commandsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "hubio",
			Subsystem:   "commands",
			Name:        "issued_total",
			Help:        "Commands given an ID and sent to the hub",
			ConstLabels: labels,
		}, []string{"kind"}),

		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "hubio",
			Subsystem:   "commands",
			Name:        "finished_total",
			Help:        "Commands retired, by outcome (done, failed, or the local cause)",
			ConstLabels: labels,
		}, []string{"outcome"}),

		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "hubio",
			Subsystem:   "commands",
			Name:        "outstanding",
			Help:        "Commands awaiting a terminal reply",
			ConstLabels: labels,
		}),

		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "hubio",
			Subsystem:   "messages",
			Name:        "received_total",
			Help:        "Messages read from the hub, by message type",
			ConstLabels: labels,
		}, []string{"type"}),

		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "hubio",
			Subsystem:   "messages",
			Name:        "parse_errors_total",
			Help:        "Lines from the hub that could not be parsed",
			ConstLabels: labels,
		}),

		connState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "hubio",
			Subsystem:   "connection",
			Name:        "state",
			Help:        "Connection state: 0 Disconnected, 1 Connecting, 2 Authorizing, 3 Connected, 4 Disconnecting, 5 Failing, 6 Failed",
			ConstLabels: labels,
		}),
	}
	for _, c := range []prometheus.Collector{
		m.commandsIssued, m.replies, m.outstanding, m.messagesReceived, m.parseErrors, m.connState,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordIssued(kind string, outstanding int) {
	if m == nil {
		return
	}
	m.commandsIssued.WithLabelValues(kind).Inc()
	m.outstanding.Set(float64(outstanding))
}

func (m *Metrics) recordReply(msg *Message, outstanding int) {
	if m == nil {
		return
	}
	outcome := "done"
	switch {
	case msg.Cause != CauseHub:
		outcome = msg.Cause.String()
	case msg.Type.DidFail():
		outcome = "failed"
	}
	m.replies.WithLabelValues(outcome).Inc()
	m.outstanding.Set(float64(outstanding))
}

func (m *Metrics) recordMessage(t MsgType) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) recordParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

func (m *Metrics) recordConnState(s ConnState) {
	if m == nil {
		return
	}
	m.connState.Set(float64(s))
}
