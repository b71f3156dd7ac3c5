package turnengine

import (
	"fmt"

	"github.com/loopwire/turnroom/llm"
	"github.com/loopwire/turnroom/schema"
)

// projectPerspective converts schema.Message records into the wire
// llm.Message shape as seen by selfID, per spec.md §4.7 step 5: other
// agents' messages become role=user, own past messages stay
// role=assistant, system/tool messages are preserved, and the first
// message from each distinct other sender gets an identifying prefix so
// a flattened role=user stream doesn't lose who said what.
func projectPerspective(selfID string, msgs []schema.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	seenSender := make(map[string]bool)

	for _, m := range msgs {
		switch m.Role {
		case schema.RoleSystem:
			out = append(out, llm.Message{Role: schema.RoleSystem, Content: m.Content})
		case schema.RoleTool:
			out = append(out, llm.Message{Role: schema.RoleTool, Content: m.Content, ToolCallID: m.ToolCallID})
		case schema.RoleAssistant:
			if m.Sender == selfID || m.Sender == "" {
				out = append(out, llm.Message{Role: schema.RoleAssistant, Content: m.Content})
				continue
			}
			out = append(out, llm.Message{Role: schema.RoleUser, Content: withSenderPrefix(m.Sender, m.Content, seenSender)})
		default: // schema.RoleUser, or any sender's broadcast content
			out = append(out, llm.Message{Role: schema.RoleUser, Content: withSenderPrefix(m.Sender, m.Content, seenSender)})
		}
	}
	return out
}

func withSenderPrefix(sender, content string, seen map[string]bool) string {
	if sender == "" || seen[sender] {
		return content
	}
	seen[sender] = true
	return fmt.Sprintf("%s: %s", sender, content)
}
