package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImmediateSetMatchesSpec(t *testing.T) {
	immediate := []Command{CmdChangeNum, CmdChangeState, CmdGetDriveType, CmdGetNumTracks, CmdRemChangeInt, CmdDeviceQuery}
	for _, c := range immediate {
		assert.True(t, c.Immediate(), "%v should be immediate", c)
	}
	assert.False(t, CmdRead.Immediate())
	assert.False(t, CmdWrite.Immediate())
}

func TestCommandStringFallsBackForUnknown(t *testing.T) {
	assert.Equal(t, "Read", CmdRead.String())
	assert.Contains(t, Command(999).String(), "999")
}

func TestMutatingCommands(t *testing.T) {
	assert.True(t, CmdWrite.Mutating())
	assert.True(t, CmdFormat.Mutating())
	assert.False(t, CmdRead.Mutating())
	assert.False(t, CmdSeek.Mutating())
}
