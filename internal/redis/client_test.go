package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventChannel(t *testing.T) {
	assert.Equal(t, "pear-connect:events:host", EventChannel("host"))
}

func TestNewClient(t *testing.T) {
	t.Run("rejects malformed url", func(t *testing.T) {
		_, err := NewClient(context.Background(), "not a url")
		assert.Error(t, err)
	})

	t.Run("fails when server is unreachable", func(t *testing.T) {
		_, err := NewClient(context.Background(), "redis://127.0.0.1:1/0")
		assert.Error(t, err)
	})
}
