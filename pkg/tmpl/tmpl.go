// Package tmpl renders the file artifacts apps generate for experiment
// hosts. Templates resolve from the app's templates directory first so
// operators can override the embedded defaults per experiment.
package tmpl

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var builtin embed.FS

// Renderer resolves and renders named templates.
type Renderer struct {
	// Dir is the operator override directory; may be empty.
	Dir string
}

// funcs available inside every template.
var funcs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// lookup returns the template body, preferring the override directory.
func (r Renderer) lookup(name string) ([]byte, error) {
	if r.Dir != "" {
		path := filepath.Join(r.Dir, name)
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read template %s: %w", path, err)
		}
	}

	data, err := builtin.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("unknown template %q: %w", name, err)
	}
	return data, nil
}

// Render executes the named template with data.
func (r Renderer) Render(name string, data any) (string, error) {
	body, err := r.lookup(name)
	if err != nil {
		return "", err
	}

	t, err := template.New(name).Funcs(funcs).Parse(string(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// RenderTo renders the named template into path. The write is atomic: the
// content lands in a temp file that is renamed over the destination.
func (r Renderer) RenderTo(name, path string, data any) error {
	out, err := r.Render(name, data)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.WriteString(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
