package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oresat/oresat-star-tracker-software/camera"
	"github.com/oresat/oresat-star-tracker-software/internal/powergov"
)

func TestInitialStatusIsBoot(t *testing.T) {
	m := New(nil)
	assert.Equal(t, Boot, m.Status())
}

func TestBootRejectsExternalCommand(t *testing.T) {
	m := New(nil)
	err := m.RequestTransition(StarTrack, camera.Running, false)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, Boot, m.Status())
}

func TestBootToStandbyRequiresInternalFlag(t *testing.T) {
	m := New(nil)
	require.ErrorIs(t, m.RequestTransition(Standby, camera.Running, false), ErrInvalidTransition)
	assert.Equal(t, Boot, m.Status())
	require.NoError(t, m.RequestTransition(Standby, camera.Running, true))
	assert.Equal(t, Standby, m.Status())
}

func TestLockoutBlocksExitFromBoot(t *testing.T) {
	m := New(nil)
	err := m.RequestTransition(Standby, camera.Lockout, true)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, Boot, m.Status())
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.RequestTransition(Standby, camera.Running, true))
	require.NoError(t, m.RequestTransition(StarTrack, camera.Running, false))

	err := m.RequestTransition(Boot, camera.Running, false)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StarTrack, m.Status())
}

func TestSameStatusIsNoopSuccess(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.RequestTransition(Standby, camera.Running, true))
	require.NoError(t, m.RequestTransition(Standby, camera.Running, false))
	assert.Equal(t, Standby, m.Status())
}

func TestCameraErrorForcesErrorState(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.RequestTransition(Standby, camera.Running, true))
	require.NoError(t, m.RequestTransition(StarTrack, camera.Running, false))

	err := m.RequestTransition(StarTrack, camera.Error, false)
	require.Error(t, err)
	assert.Equal(t, Error, m.Status())

	err = m.RequestTransition(Standby, camera.Running, false)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, Error, m.Status())
}

func TestErrorOnlyExitsToOff(t *testing.T) {
	m := New(nil)
	m.ForceError()
	require.NoError(t, m.RequestTransition(Off, camera.Running, false))
	assert.Equal(t, Off, m.Status())
}

func TestLowPowerTogglesGovernor(t *testing.T) {
	gov := &powergov.Noop{}
	m := New(gov)
	require.NoError(t, m.RequestTransition(Standby, camera.Running, true))

	require.NoError(t, m.RequestTransition(LowPower, camera.Running, false))
	assert.Equal(t, "powersave", gov.Last)

	require.NoError(t, m.RequestTransition(Standby, camera.Running, false))
	assert.Equal(t, "performance", gov.Last)
}
