package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangekit/internal/scale"
)

func windProfile(extra map[string]any) scale.Profile {
	p := scale.Profile{
		"name":  "test-profile",
		"count": 1,
		"container_template": map[string]any{
			"external_network": map[string]any{"name": "EXT"},
		},
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func TestWindTurbineConfigValidation(t *testing.T) {
	_, err := NewWindTurbineConfig(windProfile(nil))
	require.NoError(t, err)

	_, err = NewWindTurbineConfig(windProfile(map[string]any{"count": 0}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count must be >= 1")

	_, err = NewWindTurbineConfig(scale.Profile{"name": "x", "count": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "external_network must be defined for the main controller")
}

func TestWindTurbineNodeDefaults(t *testing.T) {
	p := &WindTurbine{}
	require.NoError(t, p.PreConfigure(nil, windProfile(nil)))

	assert.Equal(t, 1, p.NodeCount())
	assert.Equal(t, "test-profile-1", p.Hostname(1))

	node, err := p.NodeSpec(1)
	require.NoError(t, err)
	assert.Equal(t, 8, node.Hardware.VCPUs)
	assert.Equal(t, 16384, node.Hardware.Memory)
	require.Len(t, node.Hardware.Drives, 1)
	assert.Equal(t, "wind-turbine.qc2", node.Hardware.Drives[0].Image)
	require.Len(t, node.Network.Interfaces, 1)
	assert.Equal(t, "EXT", node.Network.Interfaces[0].VLAN)
}

func TestWindTurbineNodeTemplateOverrides(t *testing.T) {
	p := &WindTurbine{}
	require.NoError(t, p.PreConfigure(nil, windProfile(map[string]any{
		"node_template": map[string]any{
			"cpu":    4,
			"memory": 8192,
			"image":  "custom.qc2",
			"network": map[string]any{
				"interfaces": []any{
					map[string]any{"name": "eth0", "vlan": "MGMT", "address": "10.0.0.5", "mask": 24},
				},
			},
		},
	})))

	node, err := p.NodeSpec(1)
	require.NoError(t, err)
	assert.Equal(t, 4, node.Hardware.VCPUs)
	assert.Equal(t, 8192, node.Hardware.Memory)
	assert.Equal(t, "custom.qc2", node.Hardware.Drives[0].Image)
	require.Len(t, node.Network.Interfaces, 1)
	assert.Equal(t, "MGMT", node.Network.Interfaces[0].VLAN)
	assert.Equal(t, "10.0.0.5", node.Network.Interfaces[0].Address)
}

func TestWindTurbineContainerDetails(t *testing.T) {
	p := &WindTurbine{}
	require.NoError(t, p.PrePostStart(nil, windProfile(nil)))
	assert.Equal(t, 6, p.ContainerCount(1))

	a := &scale.App{}
	cs, err := p.ContainerDetails(a, 1)
	require.NoError(t, err)
	require.Len(t, cs, 6)

	types := make([]string, len(cs))
	for i, c := range cs {
		types[i] = c.Type
	}
	assert.Equal(t, []string{
		"main-controller",
		"turbine-plc-1",
		"turbine-plc-2",
		"turbine-plc-3",
		"anemometer",
		"protection-relay",
	}, types)

	assert.Equal(t, "test-profile-1-main-controller", cs[0].Name)
	assert.Equal(t, "main-controller.qc2", cs[0].Image)
	// Without a CIDR the main controller gets no static address.
	assert.Empty(t, cs[0].IPs)
}

func TestWindTurbineStaticAddressing(t *testing.T) {
	tests := []struct {
		name    string
		network string
		index   int
		want    string
	}{
		{"network address starts at first host", "192.168.50.0/24", 1, "192.168.50.1"},
		{"specific address starts there", "192.168.50.10/24", 1, "192.168.50.10"},
		{"index advances the address", "192.168.50.10/24", 3, "192.168.50.12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &WindTurbine{}
			require.NoError(t, p.PreConfigure(nil, windProfile(map[string]any{
				"count": tt.index,
				"container_template": map[string]any{
					"external_network": map[string]any{
						"name":    "EXT",
						"network": tt.network,
						"gateway": "192.168.50.254",
					},
				},
			})))

			cs, err := p.ContainerDetails(&scale.App{}, tt.index)
			require.NoError(t, err)

			mc := cs[0]
			assert.Equal(t, tt.want, mc.TopologyIP)
			assert.Equal(t, []string{tt.want + "/24"}, mc.IPs)
			assert.Equal(t, "192.168.50.254", mc.Gateway)

			// Only the main controller is addressed.
			for _, c := range cs[1:] {
				assert.Empty(t, c.IPs)
				assert.Empty(t, c.Gateway)
			}
		})
	}
}

func TestWindTurbineResolvedConfig(t *testing.T) {
	p := &WindTurbine{}
	require.NoError(t, p.PreConfigure(nil, windProfile(map[string]any{"count": 2})))

	cfg := p.Config()
	assert.Equal(t, "test-profile", cfg["name"])
	assert.Equal(t, 2, cfg["count"])
	assert.Equal(t, 8, cfg["vcpus"])
	assert.Equal(t, 16384, cfg["memory"])
	assert.Equal(t, "EXT", cfg["external_network"])
}

func TestWindTurbineRegistered(t *testing.T) {
	p, err := scale.DefaultRegistry().Get("wind-turbine", scale.VersionLatest)
	require.NoError(t, err)
	assert.IsType(t, &WindTurbine{}, p)
}
