package plugins

import (
	"fmt"

	"rangekit/internal/scale"
	"rangekit/pkg/experiment"
)

const windTurbineDoc = `# wind-turbine

Deploys a simulated wind farm: one VM per turbine, each hosting the
turbine's control containers (main controller, three turbine PLCs, an
anemometer, and a protection relay).

Profile keys:

- ` + "`count`" + ` — number of turbines (required, >= 1).
- ` + "`node_template`" + ` — VM overrides: ` + "`cpu`" + ` (default 8),
  ` + "`memory`" + ` (default 16384), ` + "`image`" + `, ` + "`network`" + `.
- ` + "`container_template.external_network`" + ` — required; the network
  the main controller is reachable on, with an optional CIDR for static
  addressing.
`

// Default turbine VM resources.
const (
	windDefaultVCPUs  = 8
	windDefaultMemory = 16384
	windDefaultImage  = "wind-turbine.qc2"
)

// windContainerTypes are the container roles on every turbine node. The
// main controller always comes first; it is the externally reachable one.
var windContainerTypes = []string{
	"main-controller",
	"turbine-plc-1",
	"turbine-plc-2",
	"turbine-plc-3",
	"anemometer",
	"protection-relay",
}

func init() {
	scale.Register("wind-turbine", "1.0.0", func() scale.Plugin { return &WindTurbine{} }, windTurbineDoc)
}

// WindTurbineConfig is the validated wind-turbine profile.
type WindTurbineConfig struct {
	Name              string            `yaml:"name"`
	Count             int               `yaml:"count"`
	NodeTemplate      NodeTemplate      `yaml:"node_template"`
	ContainerTemplate ContainerTemplate `yaml:"container_template"`
}

// NodeTemplate overrides the turbine VM.
type NodeTemplate struct {
	CPU     int                 `yaml:"cpu"`
	Memory  int                 `yaml:"memory"`
	Image   string              `yaml:"image"`
	Network *experiment.Network `yaml:"network"`
}

// ContainerTemplate configures the turbine's containers.
type ContainerTemplate struct {
	ExternalNetwork scale.ExternalNetwork `yaml:"external_network"`
}

// NewWindTurbineConfig decodes and validates a profile.
func NewWindTurbineConfig(profile scale.Profile) (WindTurbineConfig, error) {
	var cfg WindTurbineConfig
	if err := experiment.DecodeMetadata(profile, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Name == "" {
		cfg.Name = profile.Name()
	}

	if cfg.Count < 1 {
		return cfg, fmt.Errorf("count must be >= 1")
	}
	if cfg.ContainerTemplate.ExternalNetwork.Name == "" {
		return cfg, fmt.Errorf("external_network must be defined for the main controller")
	}
	return cfg, nil
}

// ToMap reports the resolved configuration.
func (c WindTurbineConfig) ToMap() map[string]any {
	return map[string]any{
		"name":             c.Name,
		"count":            c.Count,
		"vcpus":            c.VCPUs(),
		"memory":           c.MemoryMB(),
		"image":            c.Image(),
		"external_network": c.ContainerTemplate.ExternalNetwork.Name,
	}
}

// VCPUs resolves the turbine VM vcpu count.
func (c WindTurbineConfig) VCPUs() int {
	if c.NodeTemplate.CPU > 0 {
		return c.NodeTemplate.CPU
	}
	return windDefaultVCPUs
}

// MemoryMB resolves the turbine VM memory.
func (c WindTurbineConfig) MemoryMB() int {
	if c.NodeTemplate.Memory > 0 {
		return c.NodeTemplate.Memory
	}
	return windDefaultMemory
}

// Image resolves the turbine VM disk image.
func (c WindTurbineConfig) Image() string {
	if c.NodeTemplate.Image != "" {
		return c.NodeTemplate.Image
	}
	return windDefaultImage
}

// WindTurbine simulates a wind farm, one VM per turbine.
type WindTurbine struct {
	Cfg WindTurbineConfig
}

// ValidateProfile implements scale.Plugin.
func (w *WindTurbine) ValidateProfile(_ *scale.App, profile scale.Profile) error {
	_, err := NewWindTurbineConfig(profile)
	return err
}

// PreConfigure implements scale.Plugin.
func (w *WindTurbine) PreConfigure(_ *scale.App, profile scale.Profile) error {
	cfg, err := NewWindTurbineConfig(profile)
	if err != nil {
		return err
	}
	w.Cfg = cfg
	return nil
}

// PrePostStart implements scale.Plugin.
func (w *WindTurbine) PrePostStart(app *scale.App, profile scale.Profile) error {
	return w.PreConfigure(app, profile)
}

// NodeCount implements scale.Plugin.
func (w *WindTurbine) NodeCount() int { return w.Cfg.Count }

// Hostname implements scale.Plugin.
func (w *WindTurbine) Hostname(index int) string {
	return fmt.Sprintf("%s-%d", w.Cfg.Name, index)
}

// NodeSpec implements scale.Plugin.
func (w *WindTurbine) NodeSpec(index int) (*experiment.Node, error) {
	network := experiment.Network{
		Interfaces: []experiment.Interface{
			{Name: "eth0", VLAN: w.Cfg.ContainerTemplate.ExternalNetwork.Name},
		},
	}
	if w.Cfg.NodeTemplate.Network != nil {
		network = *w.Cfg.NodeTemplate.Network
	}

	return &experiment.Node{
		Type: "VirtualMachine",
		General: experiment.General{
			Hostname: w.Hostname(index),
			VMType:   "kvm",
		},
		Hardware: experiment.Hardware{
			OSType: "linux",
			VCPUs:  w.Cfg.VCPUs(),
			Memory: w.Cfg.MemoryMB(),
			Drives: []experiment.Drive{{Image: w.Cfg.Image()}},
		},
		Network: network,
	}, nil
}

// NodeConfigured implements scale.Plugin.
func (w *WindTurbine) NodeConfigured(_ *scale.App, _ int, _ string) error { return nil }

// StartupCommands implements scale.Plugin.
func (w *WindTurbine) StartupCommands(_ int, _ string) string { return "" }

// ContainerCount implements scale.Plugin.
func (w *WindTurbine) ContainerCount(_ int) int { return len(windContainerTypes) }

// Containers implements scale.Plugin.
func (w *WindTurbine) Containers(app *scale.App, index int, hostname string) ([]scale.Container, error) {
	return w.ContainerDetails(app, index)
}

// ContainerDetails describes the turbine's containers. The main controller
// attaches to the external network and, when the profile gives a CIDR,
// takes a static address advancing per turbine index: a CIDR naming the
// network address allocates from the first usable host, otherwise from the
// given address.
func (w *WindTurbine) ContainerDetails(app *scale.App, index int) ([]scale.Container, error) {
	ext := w.Cfg.ContainerTemplate.ExternalNetwork

	_, infos, err := app.ProcessNetworks(ext)
	if err != nil {
		return nil, err
	}
	gateway := app.Gateway(ext)

	hostname := w.Hostname(index)
	out := make([]scale.Container, 0, len(windContainerTypes))
	for _, typ := range windContainerTypes {
		c := scale.Container{
			Type:  typ,
			Name:  fmt.Sprintf("%s-%s", hostname, typ),
			Image: typ + ".qc2",
		}

		if typ == "main-controller" && ext.Network != "" {
			addr, _, err := scale.HostAddress(ext.Network, index)
			if err != nil {
				return nil, err
			}
			c.TopologyIP = addr.String()
			c.IPs = []string{fmt.Sprintf("%s/%d", addr, infos[0].Prefix)}
			c.Gateway = gateway
		}
		out = append(out, c)
	}
	return out, nil
}

// Config implements scale.Plugin.
func (w *WindTurbine) Config() map[string]any {
	return w.Cfg.ToMap()
}
