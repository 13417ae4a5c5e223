// Package streamkey builds deterministic stream names from a namespace and
// role-specific identifiers. Names are purely conventional; the broker sees
// flat strings, and each role has a distinct keyword segment so names never
// collide across roles.
package streamkey

import "fmt"

// DefaultNamespace is the StreamKeyBuilder prefix used when none is configured.
const DefaultNamespace = "AG1"

// Builder is a stateless, namespace-parameterised stream name generator.
// Every method is a pure function of its arguments and the namespace.
type Builder struct {
	namespace string
}

// New creates a Builder for the given namespace. An empty namespace falls
// back to DefaultNamespace.
func New(namespace string) Builder {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Builder{namespace: namespace}
}

// AgentInbox returns the stream that carries requests directed to agent a.
func (b Builder) AgentInbox(agent string) string {
	return fmt.Sprintf("%s:agent:%s:inbox", b.namespace, agent)
}

// AgentOutbox returns the stream that carries agent-emitted fan-out.
func (b Builder) AgentOutbox(agent string) string {
	return fmt.Sprintf("%s:agent:%s:outbox", b.namespace, agent)
}

// UserInbox returns the stream that carries messages for a user identity.
func (b Builder) UserInbox(user string) string {
	return fmt.Sprintf("%s:user:%s:inbox", b.namespace, user)
}

// FlowInput returns the per-session conversation input stream.
func (b Builder) FlowInput(session string) string {
	return fmt.Sprintf("%s:flow:%s:input", b.namespace, session)
}

// FlowOutput returns the per-session conversation output stream.
func (b Builder) FlowOutput(session string) string {
	return fmt.Sprintf("%s:flow:%s:output", b.namespace, session)
}

// SessionStream returns the per-session state stream.
func (b Builder) SessionStream(session string) string {
	return fmt.Sprintf("%s:session:%s:stream", b.namespace, session)
}

// EdgeRegister returns the registration inbox for edge platform p.
func (b Builder) EdgeRegister(platform string) string {
	return fmt.Sprintf("%s:edge:%s:register", b.namespace, platform)
}

// EdgeStream returns the traffic stream for edge platform p, target t.
func (b Builder) EdgeStream(platform, target string) string {
	return fmt.Sprintf("%s:edge:%s:%s:stream", b.namespace, platform, target)
}

// EdgeResponse returns the response stream for edge platform p, target t.
func (b Builder) EdgeResponse(platform, target string) string {
	return fmt.Sprintf("%s:edge:%s:%s:response", b.namespace, platform, target)
}

// A2ARegister returns the agent-to-agent registration inbox.
func (b Builder) A2ARegister(platform string) string {
	return fmt.Sprintf("%s:a2a:%s:register", b.namespace, platform)
}

// A2AInbox returns the agent-to-agent inbox.
func (b Builder) A2AInbox(platform string) string {
	return fmt.Sprintf("%s:a2a:%s:inbox", b.namespace, platform)
}

// A2AStream returns the agent-to-agent traffic stream.
func (b Builder) A2AStream(platform, target string) string {
	return fmt.Sprintf("%s:a2a:%s:%s:stream", b.namespace, platform, target)
}

// A2AResponse returns the agent-to-agent response stream.
func (b Builder) A2AResponse(platform, target string) string {
	return fmt.Sprintf("%s:a2a:%s:%s:response", b.namespace, platform, target)
}

// BillingLedger returns the per-agent accounting stream.
func (b Builder) BillingLedger(agent string) string {
	return fmt.Sprintf("%s:billing:%s:ledger", b.namespace, agent)
}

// MemoryKey returns the per-cassette memory write stream.
func (b Builder) MemoryKey(cassette string) string {
	return fmt.Sprintf("%s:memory:%s:write", b.namespace, cassette)
}

// RPCReply returns a private reply stream for an RPC call from agent,
// disambiguated by a caller-supplied unique suffix (conventionally a UUID).
func (b Builder) RPCReply(agent, suffix string) string {
	return fmt.Sprintf("%s:rpc_reply:%s:%s", b.namespace, agent, suffix)
}
