package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/planloop/internal/llm"
)

// ElaborateTool hands the previous step's output to a helper model with an
// instruction: summarise, translate, extract, rewrite.
type ElaborateTool struct {
	gateway llm.Completer
	model   string
}

func NewElaborateTool(gateway llm.Completer, model string) *ElaborateTool {
	return &ElaborateTool{gateway: gateway, model: model}
}

func (e *ElaborateTool) Name() string {
	return "elaborate"
}

func (e *ElaborateTool) Description() string {
	return "Ask a helper language model to process text: summarise, translate, extract facts or rewrite. Usually fed the output of an earlier step through input_ref."
}

func (e *ElaborateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"instruction": map[string]any{
				"type":        "string",
				"description": "What the helper model should do with the input",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Text to work on when there is no input_ref",
			},
			"json": map[string]any{
				"type":        "boolean",
				"description": "Return a JSON object instead of prose",
			},
		},
		"required": []string{"instruction"},
	}
}

func (e *ElaborateTool) Execute(ctx context.Context, call Call) (any, error) {
	instruction, _ := call.Args["instruction"].(string)
	if instruction == "" {
		return nil, errors.New("instruction is required")
	}
	input := call.InputText()
	if text, _ := call.Args["text"].(string); text != "" {
		input = strings.TrimSpace(input + "\n\n" + text)
	}
	wantJSON, _ := call.Args["json"].(bool)

	prompt := instruction
	if input != "" {
		prompt = fmt.Sprintf("%s\n\nINPUT:\n%s", instruction, input)
	}
	system := "You are a precise assistant. Follow the instruction using only the given input."
	if wantJSON {
		system += " Reply with a single JSON object."
	}

	out, err := e.gateway.Complete(ctx, []llm.Message{llm.System(system), llm.User(prompt)}, e.model, llm.Options{JSON: wantJSON})
	if err != nil {
		return nil, err
	}
	if !wantJSON {
		return out, nil
	}
	var doc map[string]any
	if err := llm.DecodeJSON("elaborate", out, nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
