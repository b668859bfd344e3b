package scale

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"rangekit/pkg/experiment"
)

// External plugins are single Go source files interpreted at runtime, so an
// experiment can ship a plugin next to its scenario without rebuilding the
// app. The file declares package plugin, imports only the standard library,
// and defines:
//
//	func NodeCount(profile map[string]interface{}) int
//	func NodeSpec(profile map[string]interface{}, index int) map[string]interface{}
//
// and optionally Version() string, Hostname(profile, index) string,
// ContainerCount(profile, index) int, and Validate(profile) error. When
// ContainerCount is defined, that many generic containers are scheduled on
// each node, using the profile's container_image (default base.qc2).

// blockedImports are stdlib packages external plugins may not use; a plugin
// computes node specs, it does not touch the system.
var blockedImports = map[string]bool{
	"os":        true,
	"os/exec":   true,
	"net":       true,
	"net/http":  true,
	"syscall":   true,
	"unsafe":    true,
	"plugin":    true,
	"runtime":   true,
	"io/ioutil": true,
}

// LoadExternal interprets the plugin source at path and registers it in reg
// under name.
func LoadExternal(reg *Registry, name, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read plugin source: %w", err)
	}

	if err := validateImports(string(src)); err != nil {
		return err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("failed to load interpreter stdlib: %w", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return fmt.Errorf("failed to evaluate plugin source: %w", err)
	}

	ext := &externalPlugin{name: name, version: "1.0.0"}

	if f, ok := symbol[func() string](i, "plugin.Version"); ok {
		ext.version = f()
	}
	ext.nodeCount, _ = symbol[func(map[string]interface{}) int](i, "plugin.NodeCount")
	if ext.nodeCount == nil {
		return fmt.Errorf("plugin %q does not define NodeCount(profile) int", name)
	}
	ext.nodeSpec, _ = symbol[func(map[string]interface{}, int) map[string]interface{}](i, "plugin.NodeSpec")
	if ext.nodeSpec == nil {
		return fmt.Errorf("plugin %q does not define NodeSpec(profile, index) map", name)
	}
	ext.hostname, _ = symbol[func(map[string]interface{}, int) string](i, "plugin.Hostname")
	ext.containerCount, _ = symbol[func(map[string]interface{}, int) int](i, "plugin.ContainerCount")
	ext.validate, _ = symbol[func(map[string]interface{}) error](i, "plugin.Validate")

	reg.Register(name, ext.version, func() Plugin {
		clone := *ext
		return &clone
	}, "")
	return nil
}

// Lint checks that path parses as a loadable external plugin. The plugin
// name is derived from the file name.
func Lint(path string) error {
	name := strings.TrimSuffix(filepath.Base(path), ".go")
	return LoadExternal(NewRegistry(), name, path)
}

// symbol fetches a typed function from the interpreter.
func symbol[T any](i *interp.Interpreter, name string) (T, bool) {
	var zero T
	v, err := i.Eval(name)
	if err != nil {
		return zero, false
	}
	f, ok := v.Interface().(T)
	if !ok {
		return zero, false
	}
	return f, true
}

// validateImports rejects plugin sources importing blocked or non-stdlib
// packages.
func validateImports(src string) error {
	inBlock := false
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
			continue
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
			continue
		}

		var pkg string
		if inBlock && trimmed != "" {
			pkg = strings.Trim(trimmed, `"`)
		} else if strings.HasPrefix(trimmed, "import ") {
			pkg = strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`)
		} else {
			continue
		}

		if idx := strings.Index(pkg, `"`); idx >= 0 {
			// Aliased import: alias "path"
			pkg = strings.Trim(pkg[idx:], `"`)
		}
		if pkg == "" {
			continue
		}
		if blockedImports[pkg] {
			return fmt.Errorf("plugin imports blocked package %q", pkg)
		}
		if strings.Contains(strings.SplitN(pkg, "/", 2)[0], ".") {
			return fmt.Errorf("plugin imports non-stdlib package %q", pkg)
		}
	}
	return nil
}

// externalPlugin adapts interpreted functions to the Plugin interface.
type externalPlugin struct {
	name    string
	version string
	profile Profile

	nodeCount      func(map[string]interface{}) int
	nodeSpec       func(map[string]interface{}, int) map[string]interface{}
	hostname       func(map[string]interface{}, int) string
	containerCount func(map[string]interface{}, int) int
	validate       func(map[string]interface{}) error
}

func (e *externalPlugin) ValidateProfile(_ *App, profile Profile) error {
	if e.validate == nil {
		return nil
	}
	return e.validate(profile)
}

func (e *externalPlugin) PreConfigure(_ *App, profile Profile) error {
	e.profile = profile
	return nil
}

func (e *externalPlugin) PrePostStart(_ *App, profile Profile) error {
	e.profile = profile
	return nil
}

func (e *externalPlugin) NodeCount() int {
	return e.nodeCount(e.profile)
}

func (e *externalPlugin) Hostname(index int) string {
	if e.hostname != nil {
		return e.hostname(e.profile, index)
	}
	return fmt.Sprintf("%s-%d", e.name, index)
}

func (e *externalPlugin) NodeSpec(index int) (*experiment.Node, error) {
	raw := e.nodeSpec(e.profile, index)

	// The interpreted function hands back a generic map; round-trip
	// through JSON to get a typed node.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("plugin %q returned an unencodable node spec: %w", e.name, err)
	}
	var node experiment.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("plugin %q returned a malformed node spec: %w", e.name, err)
	}
	if node.General.Hostname == "" {
		node.General.Hostname = e.Hostname(index)
	}
	return &node, nil
}

func (e *externalPlugin) NodeConfigured(_ *App, _ int, _ string) error { return nil }

func (e *externalPlugin) StartupCommands(_ int, _ string) string { return "" }

func (e *externalPlugin) ContainerCount(index int) int {
	if e.containerCount == nil {
		return 0
	}
	return e.containerCount(e.profile, index)
}

func (e *externalPlugin) Containers(_ *App, index int, hostname string) ([]Container, error) {
	count := e.ContainerCount(index)

	image := "base.qc2"
	if v, ok := e.profile["container_image"].(string); ok && v != "" {
		image = v
	}

	out := make([]Container, 0, count)
	for c := 1; c <= count; c++ {
		out = append(out, Container{
			Type:  "generic",
			Name:  fmt.Sprintf("%s-c%d", hostname, c),
			Image: image,
		})
	}
	return out, nil
}

func (e *externalPlugin) Config() map[string]any {
	return map[string]any(e.profile)
}

// watchDebounce suppresses the editor save storms fsnotify reports.
const watchDebounce = 500 * time.Millisecond

// Watch monitors dir for plugin source changes and invokes onChange with
// the changed path. It blocks until ctx is canceled.
func Watch(ctx context.Context, dir string, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	last := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch error: %w", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".go" {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			now := time.Now()
			if t, ok := last[ev.Name]; ok && now.Sub(t) < watchDebounce {
				continue
			}
			last[ev.Name] = now
			onChange(ev.Name)
		}
	}
}
