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
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//EnvPrefix starts the name of every environment override
const EnvPrefix = "HUBCAT_"

/*Load starts from Default, applies the YAML file at path (if path is not
empty), then HUBCAT_* environment overrides, and validates the result.*/
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := loadFromEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "failed to parse YAML config %s", path)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func loadFromEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("HUB_SCHEME", &cfg.Hub.Scheme)
	str("HUB_HOST", &cfg.Hub.Host)
	str("HUB_PATH", &cfg.Hub.Path)
	str("HUB_NAME", &cfg.Hub.Name)
	str("HUB_CMDR", &cfg.Hub.Cmdr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("METRICS_ADDR", &cfg.Metrics.Addr)

	if v, ok := lookup(EnvPrefix + "HUB_PORT"); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return NewConfigError("hub.port", "HUBCAT_HUB_PORT is not a number")
		}
		cfg.Hub.Port = p
	}
	durations := []struct {
		key   string
		field string
		dst   *time.Duration
	}{
		{"HUB_CONNECT_TIMEOUT", "hub.connect_timeout", &cfg.Hub.ConnectTimeout},
		{"COMMAND_TIME_LIMIT", "command.time_limit", &cfg.Command.TimeLimit},
	}
	for _, d := range durations {
		v, ok := lookup(EnvPrefix + d.key)
		if !ok || v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return NewConfigError(d.field, EnvPrefix+d.key+" is not a duration")
		}
		*d.dst = dur
	}
	return nil
}
