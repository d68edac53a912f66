package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptManager_Preamble(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"identity.md":     "Identity Content",
		"soul.md":         "Soul Content",
		"capabilities.md": "Capabilities Content",
		"user.md":         "User Content",
		"extra.md":        "Extra Content",
		"notes.txt":       "ignored",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	preamble, err := NewPromptManager(dir, nil).Preamble()
	require.NoError(t, err)

	parts := strings.Split(preamble, "\n\n---\n\n")
	assert.Equal(t, []string{
		"Identity Content",
		"Soul Content",
		"Capabilities Content",
		"User Content",
		"Extra Content",
	}, parts)
}

func TestPromptManager_NoDirectory(t *testing.T) {
	preamble, err := NewPromptManager("", nil).Preamble()
	require.NoError(t, err)
	assert.Empty(t, preamble)

	preamble, err = NewPromptManager(filepath.Join(t.TempDir(), "missing"), nil).Preamble()
	require.NoError(t, err)
	assert.Empty(t, preamble)
}

func TestPromptManager_RendersEmbeddedDefaults(t *testing.T) {
	pm := NewPromptManager("", nil)
	for _, name := range []string{PromptCodeEvaluate, PromptSurfLoop} {
		out, err := pm.Render(name, evalData{Objective: "find X", Plan: "{}", Iteration: 2, MaxIterations: 5, Page: "PAGE"})
		require.NoError(t, err, name)
		assert.Contains(t, out, "find X")
		assert.Contains(t, out, "ITERATION: 2 of 5")
	}

	out, err := pm.Render(PromptSurfPlan, surfPlanData{Objective: "buy milk"})
	require.NoError(t, err)
	assert.Contains(t, out, "buy milk")

	out, err = pm.Render(PromptSurfAnswer, surfAnswerData{Objective: "o", Decision: "DONE", Extracted: "[]"})
	require.NoError(t, err)
	assert.Contains(t, out, "OUTCOME: DONE")

	out, err = pm.Render(PromptCodePlan, codePlanData{Conversation: "user: hi", Catalog: "[]"})
	require.NoError(t, err)
	assert.Contains(t, out, "user: hi")
}

func TestPromptManager_DirectoryOverridesTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PromptSurfPlan+".tmpl"), []byte("custom: {{.Objective}}"), 0o644))

	out, err := NewPromptManager(dir, nil).Render(PromptSurfPlan, surfPlanData{Objective: "x"})
	require.NoError(t, err)
	assert.Equal(t, "custom: x", out)
}

func TestPromptManager_Errors(t *testing.T) {
	pm := NewPromptManager("", nil)
	_, err := pm.Render("no_such_prompt", nil)
	assert.Error(t, err)

	_, err = pm.Render(PromptSurfPlan, map[string]string{})
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PromptSurfPlan+".tmpl"), []byte("{{.Objective"), 0o644))
	_, err = NewPromptManager(dir, nil).Render(PromptSurfPlan, surfPlanData{})
	assert.Error(t, err)
}
