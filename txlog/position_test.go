package txlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogPosition_Compare(t *testing.T) {
	base := LogPosition{Version: 3, Offset: 100}

	assert.Equal(t, 0, base.Compare(LogPosition{Version: 3, Offset: 100}))

	// Offset breaks ties within a version.
	assert.Equal(t, -1, base.Compare(LogPosition{Version: 3, Offset: 101}))
	assert.Equal(t, 1, base.Compare(LogPosition{Version: 3, Offset: 99}))

	// Version dominates the offset.
	assert.Equal(t, -1, base.Compare(LogPosition{Version: 4, Offset: 0}))
	assert.Equal(t, 1, base.Compare(LogPosition{Version: 2, Offset: 1 << 40}))
}

func TestLogPosition_Before(t *testing.T) {
	assert.True(t, LogPosition{Version: 1, Offset: 500}.Before(LogPosition{Version: 2, Offset: 64}))
	assert.False(t, LogPosition{Version: 2, Offset: 64}.Before(LogPosition{Version: 2, Offset: 64}))
}

func TestLogPosition_Specified(t *testing.T) {
	assert.False(t, UnspecifiedPosition.Specified())
	assert.False(t, LogPosition{}.Specified())
	assert.True(t, LogPosition{Offset: HeaderSize}.Specified())
}

func TestLogPosition_String(t *testing.T) {
	assert.Equal(t, "LogPosition{version=2, offset=64}", LogPosition{Version: 2, Offset: 64}.String())
}
