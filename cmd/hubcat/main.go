package main

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
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/NCAR/hubio"
	"github.com/NCAR/hubio/internal/config"
	"github.com/NCAR/hubio/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	host        string
	port        int
	scheme      string
	cmdr        string
	metricsAddr string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "hubcat [actor command...]",
	Short: "Talk to a hub: a netcat that knows about commands and replies",
	Long: `hubcat connects to a hub and prints every message it receives.

Given arguments, it sends "actor command" and exits once the command finishes,
with status 1 if it failed. Otherwise it reads "actor command" lines from
standard input, sends each one, and exits when input ends and every command
has finished.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfgFile, "config", "", "YAML configuration file")
	f.StringVar(&host, "host", "", "hub host (or serial device)")
	f.IntVar(&port, "port", 0, "hub port (or baud rate)")
	f.StringVar(&scheme, "scheme", "", "transport: tcp, udp, serial, ws or wss")
	f.StringVar(&cmdr, "cmdr", "", "commander name the hub knows us by")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Hub.Host = host
	}
	if flags.Changed("port") {
		cfg.Hub.Port = port
	}
	if flags.Changed("scheme") {
		cfg.Hub.Scheme = scheme
	}
	if flags.Changed("cmdr") {
		cfg.Hub.Cmdr = cmdr
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, r); err != nil {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
}

//session is one hubcat run: a loop, a connection and a dispatcher
type session struct {
	cfg    *config.Config
	loop   *hubio.EventLoop
	conn   *hubio.Connection
	disp   *hubio.Dispatcher
	out    io.Writer
	outMu  sync.Mutex
	logger *slog.Logger
}

func (s *session) print(text string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.out, text)
}

/*connect opens the connection and waits until it is up. A later loss of the
connection cancels the returned context.*/
func (s *session) connect(ctx context.Context) (context.Context, error) {
	lost, cancel := context.WithCancel(ctx)
	result := make(chan error, 1)
	up := false
	err := s.loop.Do(ctx, func() {
		s.conn.AddStateCallback(func(c *hubio.Connection) {
			state, reason := c.FullState()
			s.logger.Info("connection", "state", state.String(), "reason", reason)
			switch {
			case c.IsConnected() && !up:
				up = true
				result <- nil
			case c.IsDisconnected() && !up:
				up = true
				result <- errors.Errorf("could not connect to %s:%d: %s", c.Host, c.Port, reason)
			case c.IsDisconnected():
				cancel()
			}
		}, false)
		if err := s.conn.Connect("", 0, s.cfg.Hub.ConnectTimeout); err != nil {
			up = true
			result <- err
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return lost, nil
}

/*execute sends one command; done is called on the loop with the command once
it has finished*/
func (s *session) execute(ctx context.Context, actor, text string, done func(*hubio.Command)) error {
	cmd := hubio.NewCommand(actor, text, func(_ hubio.MsgType, _ *hubio.Message, c *hubio.Command) {
		if c.IsDone() {
			done(c)
		}
	})
	cmd.TimeLimit = s.cfg.Command.TimeLimit
	return s.loop.Do(ctx, func() { s.disp.ExecuteCmd(cmd) })
}

func splitCommand(line string) (actor, text string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	return fields[0], strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0])), true
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics, err := hubio.NewMetrics(reg, "hubcat")
	if err != nil {
		return errors.Wrap(err, "metrics")
	}
	if cfg.Metrics.Addr != "" {
		serveMetrics(cfg.Metrics.Addr, reg, logger)
	}

	s := &session{cfg: cfg, out: os.Stdout, logger: logger}
	s.loop = hubio.NewEventLoop(ctx, logger)
	go s.loop.Run()
	defer s.loop.Stop()

	s.conn = hubio.NewConnection(s.loop, hubio.ConnectionOptions{
		Host:      cfg.Hub.Host,
		Port:      cfg.Hub.Port,
		ReadLines: true,
		Name:      cfg.Hub.Name,
		Cmdr:      cfg.Hub.Cmdr,
		Transport: &hubio.StreamTransport{Scheme: cfg.Hub.Scheme, Path: cfg.Hub.Path},
		Logger:    logger,
	})
	err = s.loop.Do(ctx, func() {
		s.disp = hubio.NewDispatcher(s.loop, s.conn, hubio.DispatcherOptions{
			Name: "hubcat",
			LogFunc: func(text string, _ hubio.Severity, _, _ string, _ int) {
				s.print(text)
			},
			Logger:  logger,
			Metrics: metrics,
		})
	})
	if err != nil {
		return err
	}
	defer s.loop.Do(context.Background(), func() {
		s.disp.Stop()
		s.conn.Disconnect(true, "")
	})

	live, err := s.connect(ctx)
	if err != nil {
		return err
	}

	if len(args) > 0 {
		return s.runOne(live, args)
	}
	return s.runStdin(live, os.Stdin)
}

func (s *session) runOne(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("need an actor and a command")
	}
	result := make(chan bool, 1)
	err := s.execute(ctx, args[0], strings.Join(args[1:], " "), func(c *hubio.Command) {
		result <- c.DidFail()
	})
	if err != nil {
		return err
	}
	select {
	case failed := <-result:
		if failed {
			return errors.Errorf("%s %s failed", args[0], strings.Join(args[1:], " "))
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "connection lost")
	}
}

func (s *session) runStdin(ctx context.Context, in io.Reader) error {
	var wg sync.WaitGroup
	failures := 0
	var mu sync.Mutex
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		actor, text, ok := splitCommand(line)
		if !ok {
			s.logger.Warn("ignoring line: need an actor and a command", "line", line)
			continue
		}
		wg.Add(1)
		err := s.execute(ctx, actor, text, func(c *hubio.Command) {
			if c.DidFail() {
				mu.Lock()
				failures++
				mu.Unlock()
			}
			wg.Done()
		})
		if err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "reading standard input")
	}
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "connection lost")
	}
	if failures > 0 {
		return errors.Errorf("%d commands failed", failures)
	}
	return nil
}
