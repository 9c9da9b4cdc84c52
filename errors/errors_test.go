package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelWrapping(t *testing.T) {
	err := Wrap(ErrTransientCopy, "copying plug-in 'Chat'")
	assert.True(t, Is(err, ErrTransientCopy))
	assert.False(t, Is(err, ErrPluginLink))
	assert.Contains(t, err.Error(), "copying plug-in 'Chat'")
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(New("other")))
	assert.True(t, IsTransient(ErrTransientCopy))
	assert.True(t, IsTransient(Wrapf(ErrTransientCopy, "plug-in %q", "Chat")))
}
