package bus_test

import (
	"context"
	"testing"

	"github.com/aetherbus/aetherbus/pkg/broker"
	memorybroker "github.com/aetherbus/aetherbus/pkg/broker/adapters/memory"
	"github.com/aetherbus/aetherbus/pkg/bus"
	"github.com/aetherbus/aetherbus/pkg/test"
)

type RegistrySuite struct {
	test.Suite
}

func TestRegistrySuite(t *testing.T) {
	test.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) TestRegisterUnregisterLifecycle() {
	client := memorybroker.New()
	defer client.Close()
	registry := bus.NewAgentRegistry(client)

	added, err := registry.Register(s.Ctx, "agent-1", map[string]string{"role": "echo"})
	s.Require().NoError(err)
	s.True(added)

	registered, err := registry.IsRegistered(s.Ctx, "agent-1")
	s.Require().NoError(err)
	s.True(registered)

	addedAgain, err := registry.Register(s.Ctx, "agent-1", nil)
	s.Require().NoError(err)
	s.False(addedAgain, "re-registering an already-present agent is a no-op")

	s.Require().NoError(registry.Unregister(s.Ctx, "agent-1"))

	registered, err = registry.IsRegistered(s.Ctx, "agent-1")
	s.Require().NoError(err)
	s.False(registered)
}

// mapRecorder records every MapSet call so a test can inspect what the
// registry wrote to an agent's info map.
type mapRecorder struct {
	broker.Client
	maps map[string]map[string]string
}

func (m *mapRecorder) MapSet(ctx context.Context, key string, fields map[string]string) error {
	m.maps[key] = fields
	return m.Client.MapSet(ctx, key, fields)
}

func (s *RegistrySuite) TestRegisterWritesRegisteredAt() {
	client := &mapRecorder{Client: memorybroker.New(), maps: map[string]map[string]string{}}
	defer client.Close()
	registry := bus.NewAgentRegistry(client)

	_, err := registry.Register(s.Ctx, "agent-2", nil)
	s.Require().NoError(err)

	has, err := client.SetHas(s.Ctx, "registry/agents", "agent-2")
	s.Require().NoError(err)
	s.True(has)
	s.NotEmpty(client.maps["registry/info/agent-2"]["registered_at"])
}
