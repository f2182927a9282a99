package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// CannedGenerator answers from a fixed keyword table. It needs no network
// and backs the realtime channel when no model is configured.
type CannedGenerator struct{}

type cannedReply struct {
	keywords []string
	reply    string
}

var cannedReplies = []cannedReply{
	{keywords: []string{"olá", "oi", "hello"}, reply: "Olá! Como posso ajudá-lo hoje?"},
	{keywords: []string{"como está", "how are you"}, reply: "Estou bem, obrigado por perguntar! Como posso ajudá-lo?"},
	{keywords: []string{"obrigado", "thank you"}, reply: "De nada! Fico feliz em poder ajudar."},
	{keywords: []string{"ajuda", "help"}, reply: "Claro! Estou aqui para ajudar. Pode me fazer qualquer pergunta ou pedir assistência."},
}

// Reply returns the canned answer for message.
func (CannedGenerator) Reply(message string) string {
	lower := strings.ToLower(message)
	for _, c := range cannedReplies {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.reply
			}
		}
	}
	return fmt.Sprintf("Recebi sua mensagem: '%s'. Como posso ajudá-lo com isso?", message)
}

// Generate implements Generator. The reply to the last user message is
// emitted word by word when streaming, whole otherwise.
func (g CannedGenerator) Generate(ctx context.Context, req GenerateRequest, emit func(string) error) error {
	reply := g.Reply(lastUserContent(req.Messages))
	if !req.Stream {
		return emit(reply)
	}
	for _, tok := range splitKeepSpace(reply) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(tok); err != nil {
			return err
		}
	}
	return nil
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// splitKeepSpace splits s before every whitespace run so the pieces
// concatenate back to s.
func splitKeepSpace(s string) []string {
	var out []string
	start := 0
	prevSpace := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if space && !prevSpace && i > start {
			out = append(out, s[start:i])
			start = i
		}
		prevSpace = space
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
