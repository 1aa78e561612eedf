// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dapcore

import "log"

// Logger is the subset of *log.Logger dapcore uses for non-fatal,
// structural conditions (ApNotPresent during enumeration, InvalidComponent
// during a ROM-table walk, a transient wire error that was retried
// successfully). Fatal and propagated conditions are never logged
// internally, only returned as errors: a driver reports failure by return
// value, not by logging around the caller.
type Logger interface {
	Printf(format string, v ...interface{})
}

// defaultLogger is log.Default(), the standard library logger used as a
// fallback when a caller never supplies its own.
var defaultLogger Logger = log.Default()

// DefaultLogger returns the package-wide default logger, used by any
// component not given an explicit Logger.
func DefaultLogger() Logger { return defaultLogger }

// SetDefaultLogger replaces the package-wide default logger. It is meant to
// be called once at process start, not per session.
func SetDefaultLogger(l Logger) {
	if l == nil {
		l = log.Default()
	}
	defaultLogger = l
}
