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

package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithCorrelationLeavesFormatUntouchedWithoutContextValues(t *testing.T) {
	got := withCorrelation(context.Background(), "opening %s")
	assert.Equal(t, "opening %s", got)
}

func TestWithCorrelationPrefixesLvsID(t *testing.T) {
	ctx := context.WithValue(context.Background(), LvsIDKey, "lvs-123")
	got := withCorrelation(ctx, "opening %s")
	assert.Equal(t, "lvs=lvs-123 opening %s", got)
}

func TestWithCorrelationPrefixesLvsAndLvolID(t *testing.T) {
	ctx := context.WithValue(context.Background(), LvsIDKey, "lvs-123")
	ctx = context.WithValue(ctx, LvolIDKey, "lvol-456")
	got := withCorrelation(ctx, "opening %s")
	assert.Equal(t, "lvs=lvs-123 lvol=lvol-456 opening %s", got)
}

func TestWithCorrelationSkipsLvolIDWithoutLvsID(t *testing.T) {
	ctx := context.WithValue(context.Background(), LvolIDKey, "lvol-456")
	got := withCorrelation(ctx, "opening %s")
	assert.Equal(t, "opening %s", got, "lvol correlation is only added alongside an lvs id")
}

func TestLoggingFunctionsDoNotPanicWithoutKlogInitialization(t *testing.T) {
	ctx := context.WithValue(context.Background(), LvsIDKey, "lvs-123")
	assert.NotPanics(t, func() {
		ErrorLog(ctx, "boom: %v", assert.AnError)
		WarningLog(ctx, "careful: %v", assert.AnError)
		DefaultLog(ctx, "hello %s", "world")
		UsefulLog(ctx, "hello %s", "world")
		DebugLog(ctx, "hello %s", "world")
	})
}
