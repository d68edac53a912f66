package agent

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"go.uber.org/zap"
)

//go:embed prompts/*.tmpl
var defaultPrompts embed.FS

// Prompt template names.
const (
	PromptCodePlan     = "code_plan"
	PromptCodeEvaluate = "code_evaluate"
	PromptSurfPlan     = "surf_plan"
	PromptSurfLoop     = "surf_loop"
	PromptSurfAnswer   = "surf_answer"
)

// preambleOrder fixes where the known persona files go; other .md files
// follow alphabetically.
var preambleOrder = map[string]int{
	"identity.md":     1,
	"soul.md":         2,
	"capabilities.md": 3,
	"directive.md":    4,
	"user.md":         5,
}

// PromptManager renders the agent prompts. Templates come from the embedded
// defaults unless Directory holds a file of the same name; .md files in
// Directory form an optional system preamble.
type PromptManager struct {
	Directory string
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]*template.Template
}

func NewPromptManager(dir string, logger *zap.Logger) *PromptManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptManager{Directory: dir, logger: logger, cache: make(map[string]*template.Template)}
}

func (pm *PromptManager) template(name string) (*template.Template, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if t, ok := pm.cache[name]; ok {
		return t, nil
	}

	file := name + ".tmpl"
	var src []byte
	if pm.Directory != "" {
		data, err := os.ReadFile(filepath.Join(pm.Directory, file))
		switch {
		case err == nil:
			src = data
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read prompt %s: %w", file, err)
		}
	}
	if src == nil {
		data, err := defaultPrompts.ReadFile("prompts/" + file)
		if err != nil {
			return nil, fmt.Errorf("unknown prompt %q", name)
		}
		src = data
	}

	t, err := template.New(name).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", file, err)
	}
	pm.cache[name] = t
	return t, nil
}

// Render executes the named prompt with data.
func (pm *PromptManager) Render(name string, data any) (string, error) {
	t, err := pm.template(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// Preamble joins the .md files of Directory in persona order. No directory
// or no files gives an empty preamble.
func (pm *PromptManager) Preamble() (string, error) {
	if pm.Directory == "" {
		return "", nil
	}
	files, err := os.ReadDir(pm.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read prompts directory: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := preambleOrder[files[i].Name()]
		oj, okJ := preambleOrder[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	var contents []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		path := filepath.Join(pm.Directory, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			pm.logger.Warn("failed to read prompt file", zap.String("path", path), zap.Error(err))
			continue
		}
		contents = append(contents, strings.TrimSpace(string(data)))
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}
