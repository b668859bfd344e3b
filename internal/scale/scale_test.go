package scale

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"rangekit/pkg/app"
	"rangekit/pkg/experiment"
	"rangekit/pkg/minimega"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePlugin is a scriptable plugin for app-level tests.
type fakePlugin struct {
	version    string
	count      int
	containers int
	preConf    int
	prePost    int
	configured []string
}

func (f *fakePlugin) ValidateProfile(_ *App, _ Profile) error { return nil }

func (f *fakePlugin) PreConfigure(_ *App, profile Profile) error {
	f.preConf++
	if c, ok := profile["count"].(int); ok {
		f.count = c
	}
	return nil
}

func (f *fakePlugin) PrePostStart(app *App, profile Profile) error {
	f.prePost++
	return f.PreConfigure(app, profile)
}

func (f *fakePlugin) NodeCount() int { return f.count }

func (f *fakePlugin) Hostname(index int) string { return fmt.Sprintf("node-%d", index) }

func (f *fakePlugin) NodeSpec(index int) (*experiment.Node, error) {
	return &experiment.Node{
		General: experiment.General{Hostname: f.Hostname(index)},
	}, nil
}

func (f *fakePlugin) NodeConfigured(_ *App, _ int, hostname string) error {
	f.configured = append(f.configured, hostname)
	return nil
}

func (f *fakePlugin) StartupCommands(_ int, _ string) string { return "" }

func (f *fakePlugin) ContainerCount(_ int) int { return f.containers }

func (f *fakePlugin) Containers(_ *App, _ int, hostname string) ([]Container, error) {
	var out []Container
	for c := 1; c <= f.containers; c++ {
		out = append(out, Container{Type: "generic", Name: fmt.Sprintf("%s-c%d", hostname, c), Image: "x.qc2"})
	}
	return out, nil
}

func (f *fakePlugin) Config() map[string]any { return map[string]any{"count": f.count} }

// fakeCommander records orchestrator commands.
type fakeCommander struct {
	cmds []string
}

func (f *fakeCommander) Run(cmd string) ([]minimega.Response, error) {
	f.cmds = append(f.cmds, cmd)
	return nil, nil
}
func (f *fakeCommander) CCFilter(filter string) error { _, err := f.Run("cc filter " + filter); return err }
func (f *fakeCommander) CCSend(path string) error     { _, err := f.Run("cc send " + path); return err }
func (f *fakeCommander) Close() error                 { return nil }

func newTestApp(t *testing.T, metadata map[string]any) (*App, *fakePlugin, *fakeCommander) {
	t.Helper()

	plugin := &fakePlugin{}
	reg := NewRegistry()
	reg.Register("fake", "1.0.0", func() Plugin { return plugin }, "")

	mm := &fakeCommander{}
	exp := &experiment.Experiment{
		Spec: experiment.Spec{
			ExperimentName: "test_exp",
			Topology:       &experiment.Topology{},
			Scenario: &experiment.Scenario{
				Apps: []*experiment.ScenarioApp{{Name: "scale", Metadata: metadata}},
			},
		},
	}

	a := &App{
		Base:     app.Base{},
		Registry: reg,
		MM:       mm,
		Summary:  io.Discard,
	}
	a.Experiment = exp
	a.Metadata = metadata
	a.ExpName = "test_exp"
	a.FilesDir = filepath.Join(t.TempDir(), "files")
	a.AppDir = filepath.Dir(a.FilesDir)
	a.Log = zap.NewNop()

	return a, plugin, mm
}

func TestProfilePluginRef(t *testing.T) {
	tests := []struct {
		name        string
		profile     Profile
		wantName    string
		wantVersion string
	}{
		{"default", Profile{}, "builtin", VersionLatest},
		{"string", Profile{"plugin": "fake"}, "fake", VersionLatest},
		{"map", Profile{"plugin": map[string]any{"name": "wind-turbine", "version": "1.0.0"}}, "wind-turbine", "1.0.0"},
		{"map without version", Profile{"plugin": map[string]any{"name": "wind-turbine"}}, "wind-turbine", VersionLatest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, version := tt.profile.PluginRef()
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

func TestProfilesSingleAndList(t *testing.T) {
	a, _, _ := newTestApp(t, map[string]any{"plugin": "fake", "count": 2})
	profiles := a.Profiles()
	require.Len(t, profiles, 1)
	assert.Equal(t, "fake", profiles[0]["plugin"])

	a, _, _ = newTestApp(t, map[string]any{
		"profiles": []any{
			map[string]any{"name": "one", "plugin": "fake"},
			map[string]any{"name": "two", "plugin": "fake"},
		},
	})
	profiles = a.Profiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, "one", profiles[0].Name())
	assert.Equal(t, "two", profiles[1].Name())

	a, _, _ = newTestApp(t, map[string]any{})
	assert.Empty(t, a.Profiles())
}

func TestConfigureAddsNodesToTopology(t *testing.T) {
	a, plugin, _ := newTestApp(t, map[string]any{
		"profiles": []any{
			map[string]any{"name": "test", "plugin": "fake", "count": 2},
		},
	})

	require.NoError(t, a.Configure(context.Background()))

	nodes := a.Experiment.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "node-1", nodes[0].General.Hostname)
	assert.Equal(t, "node-2", nodes[1].General.Hostname)

	// Defaults and common configuration were applied.
	assert.Equal(t, "VirtualMachine", nodes[0].Type)
	assert.Equal(t, "kvm", nodes[0].General.VMType)
	assert.Equal(t, "scale", nodes[0].Labels["rangekit.app"])
	assert.Equal(t, "test", nodes[0].Labels["rangekit.profile"])

	assert.Equal(t, 1, plugin.preConf)
	assert.Equal(t, []string{"node-1", "node-2"}, plugin.configured)

	// The resolved plugin config was recorded in the app metadata.
	resolved, ok := a.Metadata["resolved"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, resolved, "test")
}

func TestPostStartSendsCommandFiles(t *testing.T) {
	a, plugin, mm := newTestApp(t, map[string]any{
		"name": "default", "plugin": "fake", "count": 2,
	})
	plugin.containers = 1

	require.NoError(t, a.PostStart(context.Background()))

	assert.Equal(t, 1, plugin.prePost)

	// One command file per host.
	for _, host := range []string{"node-1", "node-2"} {
		path := filepath.Join(a.FilesDir, host+".mm")
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "generated for "+host)
		assert.Contains(t, string(data), host+"-c1")
	}

	// Filter then send, per host, in order.
	want := []string{
		"cc filter name=node-1",
		"cc send " + filepath.Join(a.FilesDir, "node-1.mm"),
		"cc filter name=node-2",
		"cc send " + filepath.Join(a.FilesDir, "node-2.mm"),
	}
	assert.Equal(t, want, mm.cmds)
}

func TestPostStartDryRunWritesNothing(t *testing.T) {
	a, _, mm := newTestApp(t, map[string]any{
		"plugin": "fake", "count": 1,
	})
	a.DryRun = true
	a.MM = nil // force Orchestrator(), which must return the dry-run stub

	require.NoError(t, a.PostStart(context.Background()))

	_, err := os.Stat(filepath.Join(a.FilesDir, "node-1.mm"))
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, mm.cmds)
}

func TestCleanupRemovesGeneratedFiles(t *testing.T) {
	a, _, _ := newTestApp(t, map[string]any{"plugin": "fake", "count": 1})

	require.NoError(t, os.MkdirAll(a.FilesDir, 0755))
	path := filepath.Join(a.FilesDir, "node-1.mm")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	keep := filepath.Join(a.FilesDir, "notes.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0644))

	require.NoError(t, a.Cleanup(context.Background()))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(keep)
	assert.NoError(t, err, "only generated .mm files are removed")
}

func TestProcessNetworks(t *testing.T) {
	a, _, _ := newTestApp(t, map[string]any{})

	_, _, err := a.ProcessNetworks(ExternalNetwork{})
	require.Error(t, err)

	name, infos, err := a.ProcessNetworks(ExternalNetwork{Name: "EXT"})
	require.NoError(t, err)
	assert.Equal(t, "EXT", name)
	require.Len(t, infos, 1)
	assert.Equal(t, 24, infos[0].Prefix)

	name, infos, err = a.ProcessNetworks(ExternalNetwork{Name: "EXT", Network: "10.0.0.0/16"})
	require.NoError(t, err)
	assert.Equal(t, 16, infos[0].Prefix)
	_ = name

	// VLAN aliases resolve to name:id.
	a.Experiment.Spec.VLANs = &experiment.VLANSpec{Aliases: map[string]int{"EXT": 200}}
	name, _, err = a.ProcessNetworks(ExternalNetwork{Name: "EXT"})
	require.NoError(t, err)
	assert.Equal(t, "EXT:200", name)
}

func TestHostAddress(t *testing.T) {
	// Network address: allocation starts at the first usable host.
	addr, bits, err := HostAddress("192.168.50.0/24", 1)
	require.NoError(t, err)
	assert.Equal(t, "192.168.50.1", addr.String())
	assert.Equal(t, 24, bits)

	// Specific address: allocation starts there.
	addr, _, err = HostAddress("192.168.50.10/24", 1)
	require.NoError(t, err)
	assert.Equal(t, "192.168.50.10", addr.String())

	// Successive indices take successive addresses.
	addr, _, err = HostAddress("192.168.50.10/24", 3)
	require.NoError(t, err)
	assert.Equal(t, "192.168.50.12", addr.String())

	_, _, err = HostAddress("not-a-cidr", 1)
	require.Error(t, err)
}
