// ABOUTME: Display names and default capability sets per agent type.

package agent

import "math/rand/v2"

var nameRoles = map[string]string{
	"search":   "Scout",
	"goose":    "Forge",
	"command":  "Forge",
	"combined": "Specialist",
	"enhanced": "Planner",
}

var nameSuffixes = []string{
	"Alpha", "Prime", "Elite", "Neo", "X", "Pro",
	"Max", "Ultra", "Zero", "One", "Apex", "Omega",
}

// generateName picks a display name for an agent of the given type.
func generateName(agentType string) string {
	role, ok := nameRoles[agentType]
	if !ok {
		role = "Agent"
	}
	return role + "-" + nameSuffixes[rand.IntN(len(nameSuffixes))]
}

// baseCapabilities are granted to every agent that does not declare its own.
var baseCapabilities = []string{
	"send",
	"progress",
	"wait",
	"create_agent",
	"list_agents",
	"stop_agent",
	"message_agent",
	"system_status",
}

var typeCapabilities = map[string][]string{
	"goose":    {"runtask", "startsession"},
	"command":  {"runtask"},
	"search":   {"web_search"},
	"combined": {"runtask", "web_search"},
	"enhanced": {"addnote", "addevent"},
}

// defaultCapabilities returns the capability list for an agent type.
func defaultCapabilities(agentType string) []string {
	caps := make([]string, 0, len(baseCapabilities)+2)
	caps = append(caps, baseCapabilities...)
	return append(caps, typeCapabilities[agentType]...)
}
