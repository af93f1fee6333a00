package orchestrator

import (
	"encoding/json"

	"github.com/haasonsaas/conduit/pkg/models"
)

var interruptedResult = json.RawMessage(`{"error":"tool call interrupted before completion"}`)

// repairTranscript normalizes a loaded history so every tool invocation is
// terminal. A crash or disconnect can leave invocations stranded in call or
// partial-call state; OpenAI-compatible APIs reject an assistant tool call
// with no matching tool result, so stranded calls are stamped as errors.
// Returns the number of invocations repaired.
func repairTranscript(conv *models.Conversation) int {
	repaired := 0
	for _, msg := range conv.Messages {
		if msg.Role != models.RoleAssistant {
			continue
		}
		for i := range msg.Parts {
			inv := msg.Parts[i].ToolInvocation
			if msg.Parts[i].Type != models.PartToolInvocation || inv == nil {
				continue
			}
			if inv.State == models.ToolStateCall || inv.State == models.ToolStatePartialCall {
				inv.State = models.ToolStateError
				inv.Result = interruptedResult
				if len(inv.Arguments) == 0 {
					inv.Arguments = json.RawMessage(`{}`)
				}
				repaired++
			}
		}
	}
	return repaired
}
