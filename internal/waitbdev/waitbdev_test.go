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

package waitbdev

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnaplv/lvs/internal/bdev"
	fakebdev "github.com/esnaplv/lvs/internal/bdev/fake"
)

func TestRegisterFiresWhenMatchingBdevAlreadyRegistered(t *testing.T) {
	registry := fakebdev.New()
	ctx := context.Background()
	registry.Register(ctx, bdev.Info{Name: "disk0", UUID: "target-a"}, nil)

	r := NewRegistry(registry)
	var got bdev.Info
	var fired int
	w := r.Register("wait-a", "target-a", func(_ context.Context, info bdev.Info) {
		fired++
		got = info
	})

	assert.Equal(t, 1, fired)
	assert.Equal(t, "disk0", got.Name)
	assert.Equal(t, "wait-a", w.Name())
	assert.Equal(t, "target-a", w.TargetUUID())
}

func TestRegisterThenLaterBdevFiresExactlyOnce(t *testing.T) {
	registry := fakebdev.New()
	ctx := context.Background()

	r := NewRegistry(registry)
	var fired int
	r.Register("wait-b", "target-b", func(context.Context, bdev.Info) {
		fired++
	})
	assert.Equal(t, 0, fired)

	registry.Register(ctx, bdev.Info{Name: "disk1", UUID: "target-b"}, nil)
	assert.Equal(t, 1, fired)

	// A second, unrelated registration must not refire an already-delivered
	// wait bdev.
	registry.Register(ctx, bdev.Info{Name: "disk2", UUID: "other"}, nil)
	assert.Equal(t, 1, fired)
}

func TestSecondRegisterRescansAlreadyRegisteredBdevsWithoutReinstallingHook(t *testing.T) {
	registry := fakebdev.New()
	ctx := context.Background()
	registry.Register(ctx, bdev.Info{Name: "disk3", UUID: "target-c"}, nil)

	r := NewRegistry(registry)
	r.Register("wait-c1", "no-match-yet", func(context.Context, bdev.Info) {})

	var fired int
	r.Register("wait-c2", "target-c", func(context.Context, bdev.Info) {
		fired++
	})
	assert.Equal(t, 1, fired, "checkAll must catch a target that was already registered before this Register call")
}

func TestUnregisterStopsFutureDelivery(t *testing.T) {
	registry := fakebdev.New()
	ctx := context.Background()

	r := NewRegistry(registry)
	var fired int
	r.Register("wait-d", "target-d", func(context.Context, bdev.Info) {
		fired++
	})
	r.Unregister("wait-d")

	registry.Register(ctx, bdev.Info{Name: "disk4", UUID: "target-d"}, nil)
	assert.Equal(t, 0, fired)
}

func TestNonMatchingUUIDNeverFires(t *testing.T) {
	registry := fakebdev.New()
	ctx := context.Background()

	r := NewRegistry(registry)
	var fired int
	r.Register("wait-e", "target-e", func(context.Context, bdev.Info) {
		fired++
	})

	registry.Register(ctx, bdev.Info{Name: "disk5", UUID: "unrelated"}, nil)
	assert.Equal(t, 0, fired)
}

func TestBdevWithEmptyUUIDIsIgnored(t *testing.T) {
	registry := fakebdev.New()
	ctx := context.Background()

	r := NewRegistry(registry)
	var fired int
	r.Register("wait-f", "", func(context.Context, bdev.Info) {
		fired++
	})

	registry.Register(ctx, bdev.Info{Name: "disk6", UUID: ""}, nil)
	assert.Equal(t, 0, fired, "a bdev with no UUID must never match any wait target, including an empty one")
}

func TestNewRegistryOverFakeBdevRegistryUsable(t *testing.T) {
	registry := fakebdev.New()
	r := NewRegistry(registry)
	require.NotNil(t, r)
}
