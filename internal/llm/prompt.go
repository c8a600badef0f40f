// Package llm implements the local and cloud inference providers on top of
// OpenAI-compatible chat completion endpoints.
package llm

import (
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/inference"
)

const assistantPrompt = `You are ScreenPilot, an assistant that sees the user's phone screen and can operate it.
Answer with a single JSON object and nothing else:
{
  "actions": [ {"type": "<action>", ...} ],
  "memory_updates": [ {"key": "...", "value": "...", "category": "..."} ]
}
Use {"type":"respond","message":"..."} to talk to the user, {"type":"clarify","question":"..."} when the request is ambiguous and {"type":"complete","summary":"..."} when a task is done.
Device actions: click(target), type(target,text), scroll(direction,target), back, home, open_app(app), wait(millis),
open_calendar(title,start), dial_number(number), call_number(number), send_sms(number,message), open_url(url),
web_search(query), set_alarm(hour,minute,label), set_timer(seconds,label), share_text(text), copy_to_clipboard(text),
send_email(to,subject,body), open_maps(query,navigate), play_media(query), capture_media(video), open_settings(section).
Only add memory_updates for durable facts about the user.`

const suggestionPrompt = `You suggest the most useful next steps for what is on the user's screen.
Answer with a single JSON object and nothing else:
{"suggestions": [ {"title": "...", "description": "...", "icon": "...", "priority": 1-10, "action": {"type": "...", ...}} ]}
Return at most %d suggestions. Higher priority means more useful.`

const textOptionsPrompt = `You rewrite text. Offer up to %d alternative versions of the user's text
(shorter, more formal, friendlier, corrected). Answer with a single JSON object and nothing else:
{"suggestions": [ {"title": "<rewritten text>", "description": "<style>", "priority": 1-10} ]}`

func responseMessages(req inference.ResponseRequest) []openai.ChatCompletionMessageParamUnion {
	var sys strings.Builder
	sys.WriteString(assistantPrompt)
	if len(req.Memories) > 0 {
		sys.WriteString("\n\nWhat you remember about the user:\n")
		for _, m := range req.Memories {
			fmt.Fprintf(&sys, "- [%s] %s: %s\n", m.Category, m.Key, m.Value)
		}
	}
	if req.Screen != nil {
		sys.WriteString("\n\nCurrent screen:\n")
		sys.WriteString(req.Screen.Summary(nil))
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	msgs = append(msgs, openai.SystemMessage(sys.String()))
	for _, h := range req.History {
		switch h.Role {
		case domain.RoleUser:
			msgs = append(msgs, openai.UserMessage(h.Content))
		case domain.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(h.Content))
		}
	}
	return append(msgs, openai.UserMessage(req.Message))
}

func suggestionMessages(screen *domain.ScreenState, maxSuggestions int, region *domain.FocusRegion) []openai.ChatCompletionMessageParamUnion {
	var user strings.Builder
	if region != nil {
		user.WriteString("The user selected part of the screen. Only consider elements inside it.\n\n")
	}
	user.WriteString(screen.Summary(region))
	return []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(fmt.Sprintf(suggestionPrompt, maxSuggestions)),
		openai.UserMessage(user.String()),
	}
}

func textOptionMessages(text string, maxOptions int) []openai.ChatCompletionMessageParamUnion {
	return []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(fmt.Sprintf(textOptionsPrompt, maxOptions)),
		openai.UserMessage(text),
	}
}
