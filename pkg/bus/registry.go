package bus

import (
	"context"
	"strconv"
	"time"

	"github.com/aetherbus/aetherbus/pkg/broker"
)

// registryAgentsSet and registryInfoPrefix are the wire-visible registry
// layout.
const (
	registryAgentsSet  = "registry/agents"
	registryInfoPrefix = "registry/info/"
)

// AgentRegistry is a shared, broker-backed presence set. It carries no
// eviction logic; liveness is advisory.
type AgentRegistry struct {
	client broker.Client
}

// NewAgentRegistry creates a registry bound to client.
func NewAgentRegistry(client broker.Client) *AgentRegistry {
	return &AgentRegistry{client: client}
}

// Register adds agentID to the presence set. On first addition it also
// writes metadata (plus registered_at) to the agent's info map, and reports
// true. A re-registration of an already-present agent is a no-op and
// reports false.
func (r *AgentRegistry) Register(ctx context.Context, agentID string, metadata map[string]string) (bool, error) {
	added, err := r.client.SetAdd(ctx, registryAgentsSet, agentID)
	if err != nil {
		return false, err
	}
	if !added {
		return false, nil
	}

	info := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		info[k] = v
	}
	info["registered_at"] = strconv.FormatInt(time.Now().Unix(), 10)

	if err := r.client.MapSet(ctx, registryInfoPrefix+agentID, info); err != nil {
		return false, err
	}
	return true, nil
}

// Unregister removes agentID from the presence set and deletes its info map.
func (r *AgentRegistry) Unregister(ctx context.Context, agentID string) error {
	if err := r.client.SetRem(ctx, registryAgentsSet, agentID); err != nil {
		return err
	}
	return r.client.MapDel(ctx, registryInfoPrefix+agentID)
}

// IsRegistered reports whether agentID is currently present.
func (r *AgentRegistry) IsRegistered(ctx context.Context, agentID string) (bool, error) {
	return r.client.SetHas(ctx, registryAgentsSet, agentID)
}
