package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCannedReply(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{name: "greeting", message: "Hello there", want: "Olá! Como posso ajudá-lo hoje?"},
		{name: "wellbeing", message: "How are you?", want: "Estou bem, obrigado por perguntar! Como posso ajudá-lo?"},
		{name: "thanks", message: "thank you!", want: "De nada! Fico feliz em poder ajudar."},
		{name: "help", message: "I need HELP", want: "Claro! Estou aqui para ajudar. Pode me fazer qualquer pergunta ou pedir assistência."},
		{name: "fallback", message: "what time is it", want: "Recebi sua mensagem: 'what time is it'. Como posso ajudá-lo com isso?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CannedGenerator{}.Reply(tt.message))
		})
	}
}

func TestCannedGenerateStreamsWords(t *testing.T) {
	var toks []string
	err := CannedGenerator{}.Generate(context.Background(), GenerateRequest{
		Stream: true,
		Messages: []Message{
			{Role: RoleSystem, Content: "be nice"},
			{Role: RoleUser, Content: "thank you"},
		},
	}, func(tok string) error {
		toks = append(toks, tok)
		return nil
	})
	require.NoError(t, err)

	assert.Greater(t, len(toks), 1)
	assert.Equal(t, "De nada! Fico feliz em poder ajudar.", strings.Join(toks, ""))
}

func TestCannedGenerateStopsOnEmitError(t *testing.T) {
	stop := errors.New("client gone")
	calls := 0
	err := CannedGenerator{}.Generate(context.Background(), GenerateRequest{
		Stream:   true,
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	}, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestSplitKeepSpace(t *testing.T) {
	assert.Equal(t, []string{"a", " b", "  c"}, splitKeepSpace("a b  c"))
	assert.Equal(t, []string{" lead"}, splitKeepSpace(" lead"))
	assert.Nil(t, splitKeepSpace(""))
}

func TestComplete(t *testing.T) {
	reply, err := Complete(context.Background(), tokens("Hi", " there"), GenerateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)

	_, err = Complete(context.Background(), GeneratorFunc(func(context.Context, GenerateRequest, func(string) error) error {
		return errors.New("quota")
	}), GenerateRequest{})
	assert.ErrorIs(t, err, ErrUpstreamGeneration)
}

func TestWithSystemPrompt(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: "1"},
		{Role: RoleAssistant, Content: "2"},
		{Role: RoleUser, Content: "3"},
	}

	got := WithSystemPrompt("sys", history, 2)
	require.Len(t, got, 3)
	assert.Equal(t, Message{Role: RoleSystem, Content: "sys"}, got[0])
	assert.Equal(t, "2", got[1].Content)
	assert.Equal(t, "3", got[2].Content)

	assert.Len(t, WithSystemPrompt("", history, 0), 3)
}
