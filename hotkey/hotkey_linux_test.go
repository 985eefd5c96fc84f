//go:build linux

package hotkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComboState(t *testing.T) {
	var s comboState
	assert.Equal(t, edgeNone, s.feed(evKey, keyP, keyPress), "P alone")
	assert.Equal(t, edgeNone, s.feed(evKey, keyP, keyRelease))

	s.feed(evKey, keyLCtrl, keyPress)
	s.feed(evKey, keyRShift, keyPress)
	assert.Equal(t, edgeDown, s.feed(evKey, keyP, keyPress))
	assert.Equal(t, edgeNone, s.feed(evKey, keyP, 2), "autorepeat")
	assert.Equal(t, edgeNone, s.feed(0, keyP, keyRelease), "not a key event")
	assert.Equal(t, edgeUp, s.feed(evKey, keyP, keyRelease))

	s.feed(evKey, keyLCtrl, keyRelease)
	assert.Equal(t, edgeNone, s.feed(evKey, keyP, keyPress))
}
