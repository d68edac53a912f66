package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	messages []llms.MessageContent
	options  llms.CallOptions
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.options)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func reply(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func TestLangchainGateway_Complete(t *testing.T) {
	model := &fakeModel{resp: reply(`{"ok": true}`)}
	gw := NewLangchainGateway(model, "openai")

	out, err := gw.Complete(context.Background(), []Message{
		System("be terse"),
		User("hello"),
	}, "gpt-4o", Options{JSON: true})
	require.NoError(t, err)

	assert.Equal(t, `{"ok": true}`, out)
	assert.Equal(t, "gpt-4o", model.options.Model)
	assert.True(t, model.options.JSONMode)
	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
}

func TestLangchainGateway_AttachesImageToLastUserMessage(t *testing.T) {
	model := &fakeModel{resp: reply("seen")}
	gw := NewLangchainGateway(model, "openai")

	_, err := gw.Complete(context.Background(), []Message{
		User("first"),
		{Role: RoleAssistant, Content: "ack"},
		User("look at this"),
	}, "gpt-4o", Options{Image: &Image{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}})
	require.NoError(t, err)

	require.Len(t, model.messages, 3)
	last := model.messages[2]
	require.Len(t, last.Parts, 2)
	bin, ok := last.Parts[1].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", bin.MIMEType)
	assert.Len(t, model.messages[0].Parts, 1)
}

func TestLangchainGateway_ImageURL(t *testing.T) {
	model := &fakeModel{resp: reply("seen")}
	gw := NewLangchainGateway(model, "openai")

	_, err := gw.Complete(context.Background(), []Message{System("only system")}, "m",
		Options{Image: &Image{URL: "https://example.com/a.png"}})
	require.NoError(t, err)

	require.Len(t, model.messages, 2)
	part, ok := model.messages[1].Parts[0].(llms.ImageURLContent)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a.png", part.URL)
}

func TestLangchainGateway_UpstreamErrors(t *testing.T) {
	boom := errors.New("401 unauthorized")
	gw := NewLangchainGateway(&fakeModel{err: boom}, "openai")
	_, err := gw.Complete(context.Background(), []Message{User("x")}, "m", Options{})
	require.Error(t, err)
	assert.True(t, IsUpstream(err))
	assert.ErrorIs(t, err, boom)

	gw = NewLangchainGateway(&fakeModel{resp: &llms.ContentResponse{}}, "openai")
	_, err = gw.Complete(context.Background(), []Message{User("x")}, "m", Options{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestRunIDContext(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	assert.Equal(t, "run-1", RunID(ctx))
	assert.Empty(t, RunID(context.Background()))
}
