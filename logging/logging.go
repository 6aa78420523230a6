// Package logging builds the standard *log.Logger every other package
// writes its "[LEVEL] component: message" lines to, filtered by minimum
// level and optionally tee'd to syslog — grounded on
// command/agent/log_levels.go and syslog_writer.go, generalized to the
// gsyslog-backed SyslogWrapper shown by cmd/serf/command/agent/syslog_test.go
// rather than the stdlib log/syslog version.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"

	gsyslog "github.com/hashicorp/go-syslog"
	"github.com/hashicorp/logutils"
)

// ValidLevels are the recognised log levels, lowest to highest severity.
var ValidLevels = []string{"DEBUG", "INFO", "WARN", "ERR"}

// LevelFilter returns a LevelFilter configured with the levels lockguardd
// uses throughout: capability detection, the watcher, the timer registry,
// and the revert engine all log at one of these four.
func LevelFilter() *logutils.LevelFilter {
	return &logutils.LevelFilter{
		Levels:   logutilsLevels(),
		MinLevel: "INFO",
		Writer:   io.Discard,
	}
}

func logutilsLevels() []logutils.LogLevel {
	levels := make([]logutils.LogLevel, len(ValidLevels))
	for i, l := range ValidLevels {
		levels[i] = logutils.LogLevel(l)
	}
	return levels
}

// Config controls how New builds the logger.
type Config struct {
	MinLevel string // one of ValidLevels; defaults to INFO
	Output   io.Writer // defaults to New's fallback writer if nil

	// Syslog, when true, tees every log line to the local syslog daemon at
	// Facility under Tag, in addition to Output.
	Syslog         bool
	SyslogFacility string
	Tag            string
}

// New builds a level-filtered *log.Logger per Config. Syslog failures are
// logged to fallback and otherwise ignored — a daemon guarding against
// lockout must never fail to start merely because syslog is unreachable.
func New(cfg Config, fallback io.Writer) (*log.Logger, error) {
	if fallback == nil {
		fallback = io.Discard
	}
	minLevel := cfg.MinLevel
	if minLevel == "" {
		minLevel = "INFO"
	}

	filter := &logutils.LevelFilter{
		Levels:   logutilsLevels(),
		MinLevel: logutils.LogLevel(strings.ToUpper(minLevel)),
		Writer:   fallback,
	}
	if cfg.Output != nil {
		filter.Writer = cfg.Output
	}

	writer := io.Writer(filter)

	if cfg.Syslog {
		sysW, err := newSyslogWrapper(cfg.SyslogFacility, cfg.Tag, filter.MinLevel)
		if err != nil {
			fmt.Fprintf(fallback, "[WARN] logging: syslog unavailable, continuing without it: %s\n", err)
		} else {
			writer = io.MultiWriter(filter, sysW)
		}
	}

	return log.New(writer, "", log.LstdFlags), nil
}

// syslogWrapper routes each filtered line to the matching syslog priority,
// per the level prefix convention ("[INFO] ...") every package in this
// module already writes.
type syslogWrapper struct {
	logger gsyslog.Syslogger
	filt   *logutils.LevelFilter
}

func newSyslogWrapper(facility, tag string, minLevel logutils.LogLevel) (*syslogWrapper, error) {
	if facility == "" {
		facility = "LOCAL0"
	}
	if tag == "" {
		tag = "lockguardd"
	}
	l, err := gsyslog.NewLogger(gsyslog.LOG_NOTICE, facility, tag)
	if err != nil {
		return nil, err
	}
	return &syslogWrapper{
		logger: l,
		filt: &logutils.LevelFilter{
			Levels:   logutilsLevels(),
			MinLevel: minLevel,
		},
	}, nil
}

func (s *syslogWrapper) Write(p []byte) (int, error) {
	if !s.filt.Check(p) {
		return len(p), nil
	}

	level := extractLevel(p)
	priority := levelToPriority(level)
	if err := s.logger.WriteLevel(priority, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func extractLevel(p []byte) string {
	x := strings.IndexByte(string(p), '[')
	if x < 0 {
		return ""
	}
	rest := string(p[x+1:])
	y := strings.IndexByte(rest, ']')
	if y < 0 {
		return ""
	}
	return rest[:y]
}

func levelToPriority(level string) gsyslog.Priority {
	switch level {
	case "DEBUG":
		return gsyslog.LOG_DEBUG
	case "INFO":
		return gsyslog.LOG_INFO
	case "WARN":
		return gsyslog.LOG_WARNING
	case "ERR", "CRIT":
		return gsyslog.LOG_ERR
	default:
		return gsyslog.LOG_NOTICE
	}
}
