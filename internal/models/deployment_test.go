package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeploymentStateTransitions(t *testing.T) {
	tests := []struct {
		from  DeploymentState
		to    DeploymentState
		legal bool
	}{
		{StateQueued, StatePlanning, true},
		{StateQueued, StateCancelled, true},
		{StateQueued, StateSucceeded, false},
		{StatePlanning, StateApplying, true},
		{StatePlanning, StateFailed, true},
		{StatePlanning, StateCancelled, true},
		{StatePlanning, StateAwaitingApproval, true},
		{StateAwaitingApproval, StateApplying, true},
		{StateApplying, StateSucceeded, true},
		{StateApplying, StateFailed, true},
		{StateApplying, StateCancelled, false},
		{StateApplying, StatePlanning, false},
		{StateSucceeded, StateFailed, false},
		{StateFailed, StateQueued, false},
		{StateCancelled, StatePlanning, false},
	}

	for _, tt := range tests {
		require.Equal(t, tt.legal, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []DeploymentState{StateSucceeded, StateFailed, StateCancelled} {
		require.True(t, s.Terminal())
		require.Empty(t, deploymentTransitions[s], "terminal state %s must have no outgoing edges", s)
	}
	for _, s := range []DeploymentState{StateQueued, StatePlanning, StateAwaitingApproval, StateApplying} {
		require.False(t, s.Terminal())
	}
}

func TestDeploymentTypeValid(t *testing.T) {
	require.True(t, DeployCreate.Valid())
	require.True(t, DeployRestartService.Valid())
	require.False(t, DeploymentType("resize").Valid())
}

func TestMachineStatusTerminal(t *testing.T) {
	require.True(t, MachineTerminated.Terminal())
	require.False(t, MachineError.Terminal())
	require.False(t, MachineRunning.Terminal())
}
