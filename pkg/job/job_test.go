// SPDX-License-Identifier: Apache-2.0

package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateCreated.Terminal())
	assert.False(t, StateRetry.Terminal())
	assert.False(t, StateActive.Terminal())
}

func TestSerializeErrorNil(t *testing.T) {
	assert.Nil(t, SerializeError(nil))
}

func TestSerializeErrorIncludesMessageAndName(t *testing.T) {
	raw := SerializeError(errors.New("handler execution exceeded 1000ms"))

	var out map[string]interface{}
	assert.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "handler execution exceeded 1000ms", out["message"])
	assert.NotEmpty(t, out["name"])
	assert.NotEmpty(t, out["stack"])
}

func TestSerializeErrorCapturesCauseChain(t *testing.T) {
	root := errors.New("connection refused")
	wrapped := fmt.Errorf("dialing upstream: %w", root)

	raw := SerializeError(wrapped)

	var out map[string]interface{}
	assert.NoError(t, json.Unmarshal(raw, &out))
	cause, ok := out["cause"].(map[string]interface{})
	assert.True(t, ok, "expected a cause object")
	assert.Equal(t, "connection refused", cause["message"])
	// Intermediate causes in the chain don't re-capture a stack trace.
	assert.Empty(t, cause["stack"])
}

func TestSecondsUntilNextBucketAvoidsEdgeAliasing(t *testing.T) {
	assert.Equal(t, 1, secondsUntilNextBucket(1))
	assert.Equal(t, 2, secondsUntilNextBucket(60))
}

func TestParseIntervalClockOnly(t *testing.T) {
	d, err := parseInterval("00:15:00")
	assert.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)
}

func TestParseIntervalWithDays(t *testing.T) {
	d, err := parseInterval("1 day 02:00:00")
	assert.NoError(t, err)
	assert.Equal(t, 26*time.Hour, d)
}
