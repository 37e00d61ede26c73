// Package protocol translates between the gateway's canonical method set
// and the wire dialects spoken by upstream agents. Adapters are looked up
// by (protocol, version); unknown versions fall back to the latest
// registered adapter for the protocol.
package protocol

// Method is the canonical, version-stable name for one gateway operation.
type Method string

const (
	// A2A task protocol.
	MethodSendMessage      Method = "send_message"
	MethodStreamMessage    Method = "stream_message"
	MethodGetTask          Method = "get_task"
	MethodListTasks        Method = "list_tasks"
	MethodCancelTask       Method = "cancel_task"
	MethodSubscribeTask    Method = "subscribe_task"
	MethodSetPushConfig    Method = "set_push_config"
	MethodGetPushConfig    Method = "get_push_config"
	MethodListPushConfigs  Method = "list_push_configs"
	MethodDeletePushConfig Method = "delete_push_config"
	MethodGetAgentCard     Method = "get_agent_card"

	// MCP tool protocol.
	MethodInitialize            Method = "initialize"
	MethodInitialized           Method = "initialized"
	MethodPing                  Method = "ping"
	MethodShutdown              Method = "shutdown"
	MethodListTools             Method = "list_tools"
	MethodCallTool              Method = "call_tool"
	MethodToolsChanged          Method = "tools_changed"
	MethodListResources         Method = "list_resources"
	MethodListResourceTemplates Method = "list_resource_templates"
	MethodReadResource          Method = "read_resource"
	MethodSubscribeResource     Method = "subscribe_resource"
	MethodUnsubscribeResource   Method = "unsubscribe_resource"
	MethodResourcesChanged      Method = "resources_changed"
	MethodResourceUpdated       Method = "resource_updated"
	MethodListPrompts           Method = "list_prompts"
	MethodGetPrompt             Method = "get_prompt"
	MethodPromptsChanged        Method = "prompts_changed"
	MethodCreateMessage         Method = "create_message"
	MethodCreateElicitation     Method = "create_elicitation"
	MethodListRoots             Method = "list_roots"
	MethodRootsChanged          Method = "roots_changed"
	MethodSetLogLevel           Method = "set_log_level"
	MethodLogMessage            Method = "log_message"
	MethodProgress              Method = "progress"
	MethodCancelled             Method = "cancelled"
)

// Streaming reports whether the canonical method produces an event stream
// rather than a single response.
func (m Method) Streaming() bool {
	return m == MethodStreamMessage || m == MethodSubscribeTask
}
