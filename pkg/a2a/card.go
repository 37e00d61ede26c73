package a2a

// WellKnownCardPath is where A2A agents publish their card.
const WellKnownCardPath = "/.well-known/agent-card.json"

// Card is a schemaless agent-card document.
type Card map[string]any

// Valid reports whether the card carries the minimum required identity.
func (card Card) Valid() bool {
	if card == nil {
		return false
	}
	name, _ := card["name"].(string)
	return name != ""
}

// Normalize fills defaulted card fields and drops nil top-level fields.
// The input is not mutated.
func (card Card) Normalize() Card {
	if card == nil {
		return nil
	}

	normalized := make(Card, len(card))
	for k, v := range card {
		if v == nil {
			continue
		}
		normalized[k] = v
	}

	if _, ok := normalized["version"].(string); !ok {
		normalized["version"] = "1.0.0"
	}
	if _, ok := normalized["protocolVersion"].(string); !ok {
		normalized["protocolVersion"] = "0.3.0"
	}
	if _, ok := normalized["defaultInputModes"]; !ok {
		normalized["defaultInputModes"] = []any{"text/plain"}
	}
	if _, ok := normalized["defaultOutputModes"]; !ok {
		normalized["defaultOutputModes"] = []any{"text/plain"}
	}

	if skills, ok := normalized["skills"].([]any); ok {
		// Skill maps are copied before defaulting so the caller's
		// document stays untouched.
		copied := make([]any, len(skills))
		for i, raw := range skills {
			skill, ok := raw.(map[string]any)
			if !ok {
				copied[i] = raw
				continue
			}
			clone := make(map[string]any, len(skill)+2)
			for k, v := range skill {
				clone[k] = v
			}
			if _, ok := clone["tags"]; !ok {
				clone["tags"] = []any{}
			}
			if _, ok := clone["examples"]; !ok {
				clone["examples"] = []any{}
			}
			copied[i] = clone
		}
		normalized["skills"] = copied
	}

	return normalized
}

// ResolveCardURL returns the URL the agent's card should be fetched from:
// an explicit metadata.agentCard.url wins, otherwise the well-known path
// under the agent's origin.
func ResolveCardURL(agent *Agent) string {
	if cached := agent.CachedCard(); cached != nil {
		if url, ok := cached["url"].(string); ok && url != "" {
			return url
		}
	}
	return agent.URL + WellKnownCardPath
}
