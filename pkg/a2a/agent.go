package a2a

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Protocol names understood by the gateway.
const (
	ProtocolA2A = "a2a"
	ProtocolMCP = "mcp"
)

// Agent is a registered upstream endpoint. Workers and sessions are looked
// up by ID; the record itself owns no processes.
type Agent struct {
	// ID is the unique identifier clients address the agent by.
	ID string `json:"id"`
	// URL is the http/https origin of the upstream endpoint.
	URL string `json:"url"`
	// Bearer is an optional static token forwarded upstream.
	Bearer string `json:"bearer,omitempty"`
	// Protocol is "a2a" or "mcp". Empty defaults to "a2a".
	Protocol string `json:"protocol,omitempty"`
	// ProtocolVersion selects the wire dialect. Empty defaults to the
	// latest registered adapter for the protocol.
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	// Metadata is free-form and may embed a cached agent card under
	// "agentCard".
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EffectiveProtocol returns the protocol with the default applied.
func (agent *Agent) EffectiveProtocol() string {
	if agent.Protocol == "" {
		return ProtocolA2A
	}
	return agent.Protocol
}

// CachedCard returns the agent card embedded in metadata, if any.
func (agent *Agent) CachedCard() Card {
	if agent.Metadata == nil {
		return nil
	}
	card, _ := agent.Metadata["agentCard"].(map[string]any)
	return Card(card)
}

func (agent *Agent) String() string {
	var sb strings.Builder

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("252"))

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("212")).
		Bold(true)

	bullet := "│ "

	sb.WriteString(headerStyle.Render("Agent") + "\n")
	sb.WriteString(bullet + labelStyle.Render("ID: ") + valueStyle.Render(agent.ID) + "\n")
	sb.WriteString(bullet + labelStyle.Render("URL: ") + valueStyle.Render(agent.URL) + "\n")
	sb.WriteString(bullet + labelStyle.Render("Protocol: ") + valueStyle.Render(agent.EffectiveProtocol()) + "\n")

	if agent.ProtocolVersion != "" {
		sb.WriteString(bullet + labelStyle.Render("Version: ") + valueStyle.Render(agent.ProtocolVersion) + "\n")
	}

	if agent.Bearer != "" {
		sb.WriteString(bullet + labelStyle.Render("Bearer: ") + valueStyle.Render("*****") + "\n")
	}

	if len(agent.Metadata) > 0 {
		sb.WriteString(bullet + labelStyle.Render("Metadata: ") + valueStyle.Render(fmt.Sprintf("%d keys", len(agent.Metadata))) + "\n")
	}

	return sb.String()
}
