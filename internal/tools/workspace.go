package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorkspaceTool reads and writes files under a single root directory so
// steps can hand larger artifacts to each other by name.
type WorkspaceTool struct {
	Root string
}

func NewWorkspaceTool(root string) *WorkspaceTool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = filepath.Clean(root)
	}
	return &WorkspaceTool{Root: absRoot}
}

func (w *WorkspaceTool) Name() string {
	return "workspace_file"
}

func (w *WorkspaceTool) Description() string {
	return "Read, write or list files in the run workspace. write stores the content argument, or the referenced input when content is omitted."
}

func (w *WorkspaceTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"enum":        []string{"read", "write", "list"},
				"description": "The operation to perform",
			},
			"filename": map[string]any{
				"type":        "string",
				"description": "Path relative to the workspace; empty lists the root",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The content to write (only for 'write')",
			},
		},
		"required": []string{"command"},
	}
}

func (w *WorkspaceTool) Execute(_ context.Context, call Call) (any, error) {
	name, _ := call.Args["filename"].(string)
	target, err := w.resolve(name)
	if err != nil {
		return nil, err
	}

	switch cmd, _ := call.Args["command"].(string); cmd {
	case "read":
		data, err := os.ReadFile(target)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return string(data), nil
	case "write":
		if name == "" {
			return nil, errors.New("filename is required")
		}
		content, ok := call.Args["content"].(string)
		if !ok {
			content = call.InputText()
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		call.log().Debug("workspace file written")
		return fmt.Sprintf("wrote %d bytes to %s", len(content), name), nil
	case "list":
		entries, err := os.ReadDir(target)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", name, err)
		}
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				out = append(out, e.Name()+"/")
			} else {
				out = append(out, e.Name())
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown command %q (want read, write or list)", cmd)
	}
}

// resolve keeps every path inside Root.
func (w *WorkspaceTool) resolve(name string) (string, error) {
	target := filepath.Join(w.Root, name)
	rel, err := filepath.Rel(w.Root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe path: %s", name)
	}
	return target, nil
}
