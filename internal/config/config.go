package config

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
	"time"

	"github.com/NCAR/hubio/internal/logging"
)

//Config is the hubcat configuration
type Config struct {
	Hub     HubConfig      `yaml:"hub"`
	Log     logging.Config `yaml:"log"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Command CommandConfig  `yaml:"command"`
}

//HubConfig says where the hub is and who we are to it
type HubConfig struct {
	Scheme         string        `yaml:"scheme"` //tcp, udp, serial, ws, wss...
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Path           string        `yaml:"path"` //websocket path
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Name           string        `yaml:"name"`
	Cmdr           string        `yaml:"cmdr"`
}

//MetricsConfig enables the metrics endpoint when Addr is set
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

//CommandConfig applies to commands issued by hubcat
type CommandConfig struct {
	TimeLimit time.Duration `yaml:"time_limit"`
}

//Default returns the configuration used when nothing else is given
func Default() *Config {
	return &Config{
		Hub: HubConfig{
			Scheme:         "tcp",
			Host:           "localhost",
			Port:           9877,
			ConnectTimeout: 10 * time.Second,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "text",
		},
		Command: CommandConfig{
			TimeLimit: 30 * time.Second,
		},
	}
}

//Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	switch c.Hub.Scheme {
	case "tcp", "tcp4", "tcp6", "udp", "udp4", "udp6", "serial", "rs232", "ws", "wss":
	default:
		return NewConfigError("hub.scheme", fmt.Sprintf("unknown scheme %q", c.Hub.Scheme))
	}
	if c.Hub.Host == "" {
		return NewConfigError("hub.host", "host is required")
	}
	if c.Hub.Port <= 0 || c.Hub.Port > 65535 {
		if c.Hub.Scheme != "serial" && c.Hub.Scheme != "rs232" {
			return NewConfigError("hub.port", "invalid port number")
		}
		if c.Hub.Port <= 0 {
			return NewConfigError("hub.port", "baud rate must be positive")
		}
	}
	if c.Hub.ConnectTimeout < 0 {
		return NewConfigError("hub.connect_timeout", "timeout cannot be negative")
	}
	if c.Command.TimeLimit < 0 {
		return NewConfigError("command.time_limit", "time limit cannot be negative")
	}
	if !logging.ValidLevel(c.Log.Level) {
		return NewConfigError("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return NewConfigError("log.format", "format must be text or json")
	}
	return nil
}

//ConfigError names the field that failed validation
type ConfigError struct {
	Field   string
	Message string
}

//NewConfigError returns a ConfigError
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s", e.Field, e.Message)
}
