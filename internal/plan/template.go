package plan

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
)

// TemplateEngine renders target URIs and form values per dispatch, so a
// shared plan can still produce varied request data.
type TemplateEngine struct {
	fileCache map[string][]string
	tmplCache map[string]*template.Template
	mu        sync.RWMutex
	funcMap   template.FuncMap
}

// TemplateData is the per-dispatch execution context.
type TemplateData struct {
	UserID    string
	UserIndex int
	UUID      string
	Seq       uint64
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		fileCache: make(map[string][]string),
		tmplCache: make(map[string]*template.Template),
	}

	e.funcMap = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomUUID":   e.randomUUID,
		"randomChoice": e.randomChoice,
		"randomLine":   e.randomLine,
		"uuid":         e.randomUUID, // Alias
	}

	return e
}

// Preprocess converts naked variables like {{userID}} to Go template
// field syntax so plan files stay readable.
func (e *TemplateEngine) Preprocess(input string) string {
	s := input
	s = strings.ReplaceAll(s, "{{userID}}", "{{.UserID}}")
	s = strings.ReplaceAll(s, "{{userIndex}}", "{{.UserIndex}}")
	s = strings.ReplaceAll(s, "{{uuid}}", "{{.UUID}}")
	s = strings.ReplaceAll(s, "{{requestID}}", "{{.UUID}}")
	s = strings.ReplaceAll(s, "{{seq}}", "{{.Seq}}")
	return s
}

func (e *TemplateEngine) parse(text string) (*template.Template, error) {
	e.mu.RLock()
	t, ok := e.tmplCache[text]
	e.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := template.New("plan").Funcs(e.funcMap).Parse(e.Preprocess(text))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.tmplCache[text] = t
	e.mu.Unlock()
	return t, nil
}

// Render executes one template string with data.
func (e *TemplateEngine) Render(text string, data TemplateData) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	t, err := e.parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderTarget produces the concrete URI and form payload for one
// dispatch of the target.
func (e *TemplateEngine) RenderTarget(t Target, user VirtualUser, seq uint64) (string, map[string]string, error) {
	data := TemplateData{
		UserID:    fmt.Sprintf("user-%d", user.Index),
		UserIndex: user.Index,
		UUID:      uuid.New().String(),
		Seq:       seq,
	}

	uri, err := e.Render(t.URI(), data)
	if err != nil {
		return "", nil, fmt.Errorf("render uri for %s: %w", t.Key(), err)
	}

	if len(t.FormData) == 0 {
		return uri, nil, nil
	}
	form := make(map[string]string, len(t.FormData))
	for k, v := range t.FormData {
		rv, err := e.Render(v, data)
		if err != nil {
			return "", nil, fmt.Errorf("render form field %q for %s: %w", k, t.Key(), err)
		}
		form[k] = rv
	}
	return uri, form, nil
}

// --- Functions ---

func (e *TemplateEngine) randomInt(min, max int) int {
	return rand.Intn(max-min) + min
}

func (e *TemplateEngine) randomUUID() string {
	return uuid.New().String()
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.Intn(len(choices))]
}

func (e *TemplateEngine) randomLine(filename string) (string, error) {
	e.mu.RLock()
	lines, ok := e.fileCache[filename]
	e.mu.RUnlock()

	if ok {
		if len(lines) == 0 {
			return "", nil
		}
		return lines[rand.Intn(len(lines))], nil
	}

	// Lazy load with a double check under the write lock.
	e.mu.Lock()
	defer e.mu.Unlock()

	if lines, ok = e.fileCache[filename]; ok {
		if len(lines) == 0 {
			return "", nil
		}
		return lines[rand.Intn(len(lines))], nil
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("failed to read file '%s': %w", filename, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	var loaded []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			loaded = append(loaded, line)
		}
	}

	e.fileCache[filename] = loaded
	if len(loaded) == 0 {
		return "", nil
	}

	return loaded[rand.Intn(len(loaded))], nil
}
