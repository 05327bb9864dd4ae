package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublish_RejectsUnencodablePayload(t *testing.T) {
	c := &Client{}

	err := c.Publish("ragchat.chat.completed", map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
