package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProcessMessage(t *testing.T) {
	msg := NewProcessMessage("10")
	assert.Equal(t, "10", msg.ID)
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "TRANSCREVER/Process", Process)
	assert.Equal(t, "TRANSCREVER/StatusChange", StatusChange)
	assert.Equal(t, "TRANSCREVER/Inform", Inform)
}
