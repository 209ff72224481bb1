package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComponentStatusFor(t *testing.T) {
	assert.Equal(t, ComponentRunning, ComponentStatusFor(3, 3))
	assert.Equal(t, ComponentError, ComponentStatusFor(2, 0))
	assert.Equal(t, ComponentPending, ComponentStatusFor(3, 1))
	assert.Equal(t, ComponentUnknown, ComponentStatusFor(0, 0))
}

func TestNewStackComponent_ClampsReady(t *testing.T) {
	c := NewStackComponent("vllm", "ns", "a", RoleUnified, 2, 5)
	assert.Equal(t, 2, c.ReadyReplicaCount)
	assert.Equal(t, ComponentRunning, c.Status)
}

func TestStackFinalize_Disaggregation(t *testing.T) {
	prefill := NewStackComponent("p", "ns", "a", RolePrefill, 1, 1)
	decode := NewStackComponent("d", "ns", "a", RoleDecode, 1, 1)

	onlyPrefill := Stack{Namespace: "ns", Cluster: "a"}
	onlyPrefill.Components.Prefill = []StackComponent{prefill, prefill}
	onlyPrefill.Finalize()
	assert.False(t, onlyPrefill.HasDisaggregation)

	both := Stack{Namespace: "ns", Cluster: "a"}
	both.Components.Prefill = []StackComponent{prefill}
	both.Components.Decode = []StackComponent{decode}
	both.Finalize()
	assert.True(t, both.HasDisaggregation)
	assert.Equal(t, "ns@a", both.ID)
	assert.Equal(t, "ns", both.DisplayName)
}

func TestStackFinalize_ReplicaSumsExcludeRouting(t *testing.T) {
	s := Stack{Namespace: "ns", Cluster: "a", PoolName: "pool"}
	s.Components.Unified = []StackComponent{NewStackComponent("u", "ns", "a", RoleUnified, 3, 2)}
	epp := NewStackComponent("epp", "ns", "a", RoleEndpointPicker, 1, 1)
	s.Components.EndpointPicker = &epp
	s.Finalize()

	assert.Equal(t, 3, s.TotalReplicas)
	assert.Equal(t, 2, s.ReadyReplicas)
	assert.Equal(t, "pool", s.DisplayName)
	assert.Equal(t, StackDegraded, s.Status)
}

func TestRollupStatus(t *testing.T) {
	running := NewStackComponent("r", "ns", "a", RoleUnified, 1, 1)
	failing := NewStackComponent("f", "ns", "a", RoleUnified, 1, 0)

	assert.Equal(t, StackUnknown, RollupStatus(nil))
	assert.Equal(t, StackHealthy, RollupStatus([]StackComponent{running, running}))
	assert.Equal(t, StackUnhealthy, RollupStatus([]StackComponent{failing}))
	assert.Equal(t, StackDegraded, RollupStatus([]StackComponent{running, failing}))
}

func TestStackClone_Independent(t *testing.T) {
	s := Stack{Namespace: "ns", Cluster: "a"}
	s.Components.Unified = []StackComponent{NewStackComponent("u", "ns", "a", RoleUnified, 1, 1)}
	s.Finalize()

	c := s.Clone()
	c.Components.Unified[0].Name = "changed"
	assert.Equal(t, "u", s.Components.Unified[0].Name)
}
