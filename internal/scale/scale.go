package scale

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rangekit/internal/render"
	"rangekit/pkg/app"
	"rangekit/pkg/experiment"
	"rangekit/pkg/minimega"
	"rangekit/pkg/tmpl"
)

// nodeFileTemplate renders each host's generated command file.
const nodeFileTemplate = "node.mm.tmpl"

// App is the scale experiment app.
type App struct {
	app.Base

	// Registry resolves plugins; defaults to the shared registry.
	Registry *Registry

	// MM overrides the orchestrator channel (tests inject a fake).
	MM minimega.Commander

	// Summary receives the stage summary table; defaults to stderr.
	Summary io.Writer
}

// New returns the scale app backed by the default plugin registry.
func New() *App {
	return &App{Registry: defaultRegistry}
}

// Name implements app.App.
func (a *App) Name() string { return "scale" }

// Profiles returns the scale profiles from the app metadata. A metadata
// block with a "profiles" list yields one profile per entry; otherwise the
// metadata itself is the single profile.
func (a *App) Profiles() []Profile {
	raw, ok := a.Metadata["profiles"]
	if !ok {
		if len(a.Metadata) == 0 {
			return nil
		}
		return []Profile{Profile(a.Metadata)}
	}

	list, ok := raw.([]any)
	if !ok {
		return nil
	}

	var out []Profile
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Profile(m))
		}
	}
	return out
}

// pluginFor resolves the profile's plugin, loading it from the
// experiment's plugin directory when it is not registered.
func (a *App) pluginFor(profile Profile) (Plugin, error) {
	name, version := profile.PluginRef()

	if !a.Registry.Has(name) {
		path := filepath.Join(a.AppDir, "plugins", name+".go")
		if _, err := os.Stat(path); err == nil {
			if err := LoadExternal(a.Registry, name, path); err != nil {
				return nil, fmt.Errorf("failed to load plugin %q from %s: %w", name, path, err)
			}
			a.Log.Info("loaded external plugin",
				zap.String("plugin", name),
				zap.String("path", path))
		}
	}

	return a.Registry.Get(name, version)
}

// Configure adds each profile's nodes to the experiment topology.
func (a *App) Configure(_ context.Context) error {
	profiles := a.Profiles()
	if len(profiles) == 0 {
		a.Log.Warn("no scale profiles in app metadata")
		return nil
	}

	var rows [][]string
	for _, profile := range profiles {
		plugin, err := a.pluginFor(profile)
		if err != nil {
			return err
		}

		name, version := profile.PluginRef()
		if err := plugin.ValidateProfile(a, profile); err != nil {
			return fmt.Errorf("profile %q is invalid: %w", profile.Name(), err)
		}
		if err := plugin.PreConfigure(a, profile); err != nil {
			return fmt.Errorf("failed to configure profile %q: %w", profile.Name(), err)
		}

		count := plugin.NodeCount()
		for i := 1; i <= count; i++ {
			node, err := plugin.NodeSpec(i)
			if err != nil {
				return fmt.Errorf("failed to build node %d of profile %q: %w", i, profile.Name(), err)
			}
			a.applyNodeDefaults(node)
			a.configureNodeCommon(node, profile)
			a.Experiment.AddNode(node)

			hostname := node.General.Hostname
			if err := plugin.NodeConfigured(a, i, hostname); err != nil {
				return fmt.Errorf("plugin callback failed for %s: %w", hostname, err)
			}
		}

		a.recordPluginConfig(profile, plugin)
		rows = append(rows, []string{
			profile.Name(),
			fmt.Sprintf("%s %s", name, version),
			strconv.Itoa(count),
		})

		a.Log.Info("profile configured",
			zap.String("profile", profile.Name()),
			zap.String("plugin", name),
			zap.Int("nodes", count))
	}

	a.printSummary([]string{"PROFILE", "PLUGIN", "NODES"}, rows)
	return nil
}

// PreStart validates all profiles so configuration errors surface before
// any VM boots.
func (a *App) PreStart(_ context.Context) error {
	for _, profile := range a.Profiles() {
		plugin, err := a.pluginFor(profile)
		if err != nil {
			return err
		}
		if err := plugin.ValidateProfile(a, profile); err != nil {
			return fmt.Errorf("profile %q is invalid: %w", profile.Name(), err)
		}
	}
	return nil
}

// PostStart generates each host's command file and ships it over the
// orchestrator's cc channel.
func (a *App) PostStart(ctx context.Context) error {
	profiles := a.Profiles()
	if len(profiles) == 0 {
		return nil
	}

	mm := a.MM
	if mm == nil {
		var err error
		mm, err = a.Orchestrator()
		if err != nil {
			return err
		}
		defer mm.Close()
	}

	renderer := tmpl.Renderer{Dir: a.TemplatesDir}

	var rows [][]string
	for _, profile := range profiles {
		plugin, err := a.pluginFor(profile)
		if err != nil {
			return err
		}
		if err := plugin.PrePostStart(a, profile); err != nil {
			return fmt.Errorf("failed to prepare profile %q: %w", profile.Name(), err)
		}

		count := plugin.NodeCount()
		hostnames := make([]string, count)
		paths := make([]string, count)
		containers := 0

		g, _ := errgroup.WithContext(ctx)
		for i := 1; i <= count; i++ {
			i := i
			hostname := plugin.Hostname(i)
			hostnames[i-1] = hostname
			paths[i-1] = filepath.Join(a.FilesDir, hostname+".mm")
			containers += plugin.ContainerCount(i)

			g.Go(func() error {
				details, err := plugin.Containers(a, i, hostname)
				if err != nil {
					return fmt.Errorf("failed to describe containers for %s: %w", hostname, err)
				}
				data := nodeFileData{
					Hostname:   hostname,
					Containers: details,
					Extra:      plugin.StartupCommands(i, hostname),
				}
				if a.DryRun {
					a.Log.Info("dry run: skipping command file",
						zap.String("host", hostname),
						zap.String("path", paths[i-1]))
					return nil
				}
				return renderer.RenderTo(nodeFileTemplate, paths[i-1], data)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// cc commands are ordered; the filter scopes the following send.
		for i := 1; i <= count; i++ {
			if err := mm.CCFilter("name=" + hostnames[i-1]); err != nil {
				return err
			}
			if err := mm.CCSend(paths[i-1]); err != nil {
				return err
			}
		}

		rows = append(rows, []string{
			profile.Name(),
			strconv.Itoa(count),
			strconv.Itoa(containers),
		})
	}

	a.printSummary([]string{"PROFILE", "HOSTS", "CONTAINERS"}, rows)
	return nil
}

// Running has nothing to do for scale; the containers run on their own.
func (a *App) Running(_ context.Context) error {
	a.Log.Debug("running stage: nothing to do")
	return nil
}

// Cleanup removes the generated command files.
func (a *App) Cleanup(_ context.Context) error {
	if a.DryRun {
		a.Log.Info("dry run: skipping removal of generated files",
			zap.String("dir", a.FilesDir))
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(a.FilesDir, "*.mm"))
	if err != nil {
		return fmt.Errorf("failed to list generated files: %w", err)
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	a.Log.Info("removed generated files", zap.Int("count", len(matches)))
	return nil
}

// nodeFileData feeds the node command file template.
type nodeFileData struct {
	Hostname   string
	Containers []Container
	Extra      string
}

// applyNodeDefaults fills the fields a plugin may leave empty.
func (a *App) applyNodeDefaults(node *experiment.Node) {
	if node.Type == "" {
		node.Type = "VirtualMachine"
	}
	if node.General.VMType == "" {
		node.General.VMType = "kvm"
	}
	if node.Hardware.OSType == "" {
		node.Hardware.OSType = "linux"
	}
	if node.Hardware.VCPUs == 0 {
		node.Hardware.VCPUs = 1
	}
	if node.Hardware.Memory == 0 {
		node.Hardware.Memory = 512
	}
}

// configureNodeCommon applies app-wide node configuration.
func (a *App) configureNodeCommon(node *experiment.Node, profile Profile) {
	if node.Labels == nil {
		node.Labels = map[string]string{}
	}
	node.Labels["rangekit.app"] = a.Name()
	node.Labels["rangekit.profile"] = profile.Name()
	if node.General.Description == "" {
		node.General.Description = fmt.Sprintf("scaled node (profile %s)", profile.Name())
	}
}

// recordPluginConfig leaves the plugin's resolved configuration in the app
// metadata so the emitted document shows what actually ran.
func (a *App) recordPluginConfig(profile Profile, plugin Plugin) {
	resolved, _ := a.Metadata["resolved"].(map[string]any)
	if resolved == nil {
		resolved = map[string]any{}
		a.Metadata["resolved"] = resolved
	}
	resolved[profile.Name()] = plugin.Config()
}

func (a *App) printSummary(headers []string, rows [][]string) {
	var out io.Writer = os.Stderr
	if a.Summary != nil {
		out = a.Summary
	}
	render.WriteTable(out, headers, rows)
}

// ProcessNetworks resolves a container's external network definition into
// the network identifier containers attach to and per-network addressing
// info. The prefix comes from the network CIDR, defaulting to /24.
func (a *App) ProcessNetworks(ext ExternalNetwork) (string, []NetworkInfo, error) {
	if err := ext.validate(); err != nil {
		return "", nil, err
	}

	name := ext.Name
	if a.Experiment != nil {
		if id, ok := a.Experiment.VLANAlias(ext.Name); ok {
			name = fmt.Sprintf("%s:%d", ext.Name, id)
		}
	}

	prefix := 24
	if ext.Network != "" {
		p, err := netip.ParsePrefix(ext.Network)
		if err != nil {
			return "", nil, fmt.Errorf("invalid network %q: %w", ext.Network, err)
		}
		prefix = p.Bits()
	}

	return name, []NetworkInfo{{Prefix: prefix}}, nil
}

// Gateway returns the external network's gateway address, if any.
func (a *App) Gateway(ext ExternalNetwork) string {
	return ext.Gateway
}

// HostAddress computes the CIDR host address for a 1-based node index.
// When the CIDR names the network address (host bits zero) allocation
// starts at the first usable host; otherwise it starts at the given
// address. Successive indices take successive addresses.
func HostAddress(network string, index int) (netip.Addr, int, error) {
	p, err := netip.ParsePrefix(network)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("invalid network %q: %w", network, err)
	}

	start := p.Addr()
	if start == p.Masked().Addr() {
		start = start.Next()
	}

	addr := start
	for i := 1; i < index; i++ {
		addr = addr.Next()
		if !p.Contains(addr) {
			return netip.Addr{}, 0, fmt.Errorf("network %q exhausted at index %d", network, index)
		}
	}
	return addr, p.Bits(), nil
}
