// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package nsnmp

import "log"

// Logger is the minimal logging seam this module calls out to. A caller
// supplies an implementation (or uses NewLogger to wrap a *log.Logger);
// a nil Logger in Config or agent.ServerConfig discards output, so logging is
// opt-in. Log sinks themselves (files, syslog, structured encoders) are out
// of scope (§1 Non-goals) - this is only the interface they plug into.
type Logger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
}

type goLogger struct {
	logger *log.Logger
}

// NewLogger wraps a standard library *log.Logger as a Logger.
func NewLogger(l *log.Logger) Logger {
	return &goLogger{logger: l}
}

func (g *goLogger) Print(v ...interface{})                 { g.logger.Print(v...) }
func (g *goLogger) Printf(format string, v ...interface{}) { g.logger.Printf(format, v...) }

type discardLogger struct{}

func (discardLogger) Print(v ...interface{})                 {}
func (discardLogger) Printf(format string, v ...interface{}) {}

func logOf(l Logger) Logger {
	if l == nil {
		return discardLogger{}
	}
	return l
}
