/*
Copyright 2026 The LVS Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log provides leveled, context-correlated logging for the lvol
// store. It is a thin wrapper around klog so every package logs through the
// same sink and the same verbosity knobs.
package log

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// Verbosity levels, from least to most chatty.
const (
	Default klog.Level = iota + 1
	Useful
	Debug
)

type contextKey string

// LvsIDKey correlates log lines with the lvs UUID that is in scope.
var LvsIDKey = contextKey("lvs-id")

// LvolIDKey correlates log lines with the lvol UUID that is in scope.
var LvolIDKey = contextKey("lvol-id")

// withCorrelation prefixes format with the lvs identity found on ctx,
// followed by the lvol identity when one is also present; an lvol identity
// without an lvs identity adds no prefix.
func withCorrelation(ctx context.Context, format string) string {
	lvsID := ctx.Value(LvsIDKey)
	if lvsID == nil {
		return format
	}
	prefix := fmt.Sprintf("lvs=%v ", lvsID)
	if lvolID := ctx.Value(LvolIDKey); lvolID != nil {
		prefix += fmt.Sprintf("lvol=%v ", lvolID)
	}
	return prefix + format
}

// ErrorLog logs an error-level message, correlated with ctx.
func ErrorLog(ctx context.Context, format string, args ...interface{}) {
	klog.ErrorDepth(1, fmt.Sprintf(withCorrelation(ctx, format), args...))
}

// WarningLog logs a warning-level message, correlated with ctx.
func WarningLog(ctx context.Context, format string, args ...interface{}) {
	klog.WarningDepth(1, fmt.Sprintf(withCorrelation(ctx, format), args...))
}

// DefaultLog logs at the default verbosity, correlated with ctx.
func DefaultLog(ctx context.Context, format string, args ...interface{}) {
	if klog.V(Default).Enabled() {
		klog.InfoDepth(1, fmt.Sprintf(withCorrelation(ctx, format), args...))
	}
}

// UsefulLog logs at a verbosity useful for operators diagnosing degraded
// mode or hotplug without full debug tracing.
func UsefulLog(ctx context.Context, format string, args ...interface{}) {
	if klog.V(Useful).Enabled() {
		klog.InfoDepth(1, fmt.Sprintf(withCorrelation(ctx, format), args...))
	}
}

// DebugLog logs at debug verbosity, correlated with ctx.
func DebugLog(ctx context.Context, format string, args ...interface{}) {
	if klog.V(Debug).Enabled() {
		klog.InfoDepth(1, fmt.Sprintf(withCorrelation(ctx, format), args...))
	}
}
