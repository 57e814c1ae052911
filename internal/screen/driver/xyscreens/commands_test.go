package xyscreens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommands(t *testing.T) {
	commands := NewCommands([]byte{0xAA, 0xEE, 0xEE})

	assert.Equal(t, []byte{0xFF, 0xAA, 0xEE, 0xEE, 0xDD}, commands.Up())
	assert.Equal(t, []byte{0xFF, 0xAA, 0xEE, 0xEE, 0xCC}, commands.Stop())
	assert.Equal(t, []byte{0xFF, 0xAA, 0xEE, 0xEE, 0xEE}, commands.Down())
	assert.Equal(t, []byte{0xFF, 0xAA, 0xEE, 0xEE, 0xC9}, commands.MicroUp())
	assert.Equal(t, []byte{0xFF, 0xAA, 0xEE, 0xEE, 0xE9}, commands.MicroDown())
	assert.Equal(t, []byte{0xFF, 0xAA, 0xEE, 0xEE, 0xAA}, commands.Program())
}
