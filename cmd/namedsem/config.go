package main

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/richinsley/namedsem"
)

// Config is read from the environment; command-line flags override it.
type Config struct {
	KeyDir   string `env:"NAMEDSEM_KEY_DIR,default=/tmp"`
	LogLevel string `env:"NAMEDSEM_LOG_LEVEL,default=info"`
	Events   string `env:"NAMEDSEM_EVENTS"`
}

func loadConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, errors.Wrap(err, "reading environment")
	}
	return &cfg, nil
}

func (c *Config) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.KeyDir, "key-dir", c.KeyDir, "directory holding key-files ($NAMEDSEM_KEY_DIR)")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level ($NAMEDSEM_LOG_LEVEL)")
	flags.StringVar(&c.Events, "events", c.Events, "append a MessagePack event log to this file ($NAMEDSEM_EVENTS)")
}

// session holds what every subcommand needs once flags are parsed.
type session struct {
	log    *logrus.Logger
	opts   namedsem.Options
	events *namedsem.EventStream
	closer io.Closer
}

func (c *Config) session(stderr io.Writer) (*session, error) {
	log := logrus.New()
	log.SetOutput(stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)

	s := &session{log: log}
	observer := namedsem.LogrusObserver(log)
	if c.Events != "" {
		f, err := os.OpenFile(c.Events, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, errors.Wrap(err, "opening event log")
		}
		s.closer = f
		s.events = namedsem.NewEventStream(f)
		observer = namedsem.MultiObserver(observer, s.events.Observer())
	}
	s.opts = namedsem.Options{KeyDir: c.KeyDir, Observer: observer}
	return s, nil
}

func (s *session) Close() error {
	if s.events != nil {
		if err := s.events.Err(); err != nil {
			s.log.WithError(err).Warn("event log incomplete")
		}
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
