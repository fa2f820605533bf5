package render

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

var (
	// ErrTemplateNotFound is returned when no template is registered under the
	// requested name.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrRender is returned when a registered template fails to execute, for
	// example because a referenced variable is missing.
	ErrRender = errors.New("template render failed")
)

// Renderer resolves a template name and variables into subject and body text.
type Renderer interface {
	Render(name string, vars map[string]string) (subject, body string, err error)
}

type templatePair struct {
	subject *template.Template
	body    *template.Template
}

// TemplateRenderer renders notifications from text/template pairs. Templates
// are registered programmatically or loaded from a directory holding
// <name>.subject.tmpl and <name>.body.tmpl files.
type TemplateRenderer struct {
	mu        sync.RWMutex
	templates map[string]templatePair
}

func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{templates: make(map[string]templatePair)}
}

// RegisterString registers a template pair from inline sources. An empty
// subject is allowed for channels without one.
func (r *TemplateRenderer) RegisterString(name, subjectSrc, bodySrc string) error {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return fmt.Errorf("template name is required")
	}
	if bodySrc == "" {
		return fmt.Errorf("template %q: body source is required", trimmedName)
	}

	pair := templatePair{}

	if subjectSrc != "" {
		subject, err := parseStrict(trimmedName+".subject", subjectSrc)
		if err != nil {
			return err
		}
		pair.subject = subject
	}

	body, err := parseStrict(trimmedName+".body", bodySrc)
	if err != nil {
		return err
	}
	pair.body = body

	r.mu.Lock()
	r.templates[trimmedName] = pair
	r.mu.Unlock()

	return nil
}

// LoadDir loads every template pair found in dir. A body file is required per
// template name; a subject file is optional. Files that do not match the
// naming convention are ignored.
func (r *TemplateRenderer) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read template dir: %w", err)
	}

	subjects := make(map[string]string)
	bodies := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		fileName := entry.Name()
		var name string
		switch {
		case strings.HasSuffix(fileName, ".subject.tmpl"):
			name = strings.TrimSuffix(fileName, ".subject.tmpl")
		case strings.HasSuffix(fileName, ".body.tmpl"):
			name = strings.TrimSuffix(fileName, ".body.tmpl")
		default:
			continue
		}
		if name == "" {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, fileName))
		if err != nil {
			return fmt.Errorf("read template file %q: %w", fileName, err)
		}

		if strings.HasSuffix(fileName, ".subject.tmpl") {
			subjects[name] = string(content)
		} else {
			bodies[name] = string(content)
		}
	}

	for name := range subjects {
		if _, ok := bodies[name]; !ok {
			return fmt.Errorf("template %q has a subject file but no body file", name)
		}
	}

	for name, bodySrc := range bodies {
		if err := r.RegisterString(name, subjects[name], bodySrc); err != nil {
			return err
		}
	}

	return nil
}

// Render executes the named template pair. Rendered output is trimmed of
// surrounding whitespace so file-based templates can end with a newline.
func (r *TemplateRenderer) Render(name string, vars map[string]string) (string, string, error) {
	r.mu.RLock()
	pair, ok := r.templates[strings.TrimSpace(name)]
	r.mu.RUnlock()

	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}

	if vars == nil {
		vars = map[string]string{}
	}

	subject := ""
	if pair.subject != nil {
		rendered, err := execute(pair.subject, vars)
		if err != nil {
			return "", "", fmt.Errorf("%w: template %q subject: %v", ErrRender, name, err)
		}
		subject = rendered
	}

	body, err := execute(pair.body, vars)
	if err != nil {
		return "", "", fmt.Errorf("%w: template %q body: %v", ErrRender, name, err)
	}

	return subject, body, nil
}

func parseStrict(name, src string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}
	return tmpl, nil
}

func execute(tmpl *template.Template, vars map[string]string) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}
