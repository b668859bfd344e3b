// Package plugins ships the plugins bundled with the scale app. Importing
// it (usually blank, from the app binary) registers them.
package plugins

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"rangekit/internal/scale"
	"rangekit/pkg/experiment"
)

const builtinDoc = `# builtin

The default scale plugin. It deploys generic infrastructure in one of two
modes:

- **count**: deploy exactly ` + "`count`" + ` identical nodes.
- **containers**: set ` + "`containers`" + ` and ` + "`containers_per_node`" + `
  and the plugin computes how many nodes are needed to host that container
  volume, packing the remainder onto the last node.

Profile keys: ` + "`count`" + ` (default 1), ` + "`containers`" + `,
` + "`containers_per_node`" + `, ` + "`hostname_prefix`" + ` (default "node"),
` + "`container_image`" + `.
`

func init() {
	scale.Register("builtin", "1.0.0", func() scale.Plugin { return &BuiltinV1{} }, builtinDoc)
	scale.Register("builtin", "2.0.0", func() scale.Plugin { return &BuiltinV2{} }, "")
}

// BuiltinConfig is the validated builtin profile.
type BuiltinConfig struct {
	Count             int    `yaml:"count"`
	Containers        int    `yaml:"containers"`
	ContainersPerNode int    `yaml:"containers_per_node"`
	HostnamePrefix    string `yaml:"hostname_prefix"`
	ContainerImage    string `yaml:"container_image"`
}

// NewBuiltinConfig decodes and validates a profile.
func NewBuiltinConfig(profile scale.Profile) (BuiltinConfig, error) {
	var raw struct {
		Count             *int    `yaml:"count"`
		Containers        *int    `yaml:"containers"`
		ContainersPerNode *int    `yaml:"containers_per_node"`
		HostnamePrefix    *string `yaml:"hostname_prefix"`
		ContainerImage    *string `yaml:"container_image"`
	}
	if err := experiment.DecodeMetadata(profile, &raw); err != nil {
		return BuiltinConfig{}, err
	}

	cfg := BuiltinConfig{
		Count:          1,
		HostnamePrefix: "node",
		ContainerImage: "base.qc2",
	}
	if raw.Count != nil {
		cfg.Count = *raw.Count
	}
	if raw.Containers != nil {
		cfg.Containers = *raw.Containers
	}
	if raw.ContainersPerNode != nil {
		cfg.ContainersPerNode = *raw.ContainersPerNode
	}
	if raw.HostnamePrefix != nil && *raw.HostnamePrefix != "" {
		cfg.HostnamePrefix = *raw.HostnamePrefix
	}
	if raw.ContainerImage != nil && *raw.ContainerImage != "" {
		cfg.ContainerImage = *raw.ContainerImage
	}

	if cfg.Count < 1 {
		return cfg, fmt.Errorf("count must be >= 1")
	}
	if cfg.Containers < 0 {
		return cfg, fmt.Errorf("containers must be >= 0")
	}
	if cfg.ContainersPerNode < 0 {
		return cfg, fmt.Errorf("containers_per_node must be >= 0")
	}
	return cfg, nil
}

// ToMap reports the resolved configuration.
func (c BuiltinConfig) ToMap() map[string]any {
	return map[string]any{
		"count":               c.Count,
		"containers":          c.Containers,
		"containers_per_node": c.ContainersPerNode,
		"hostname_prefix":     c.HostnamePrefix,
		"container_image":     c.ContainerImage,
	}
}

// BuiltinV1 is the default scale plugin.
type BuiltinV1 struct {
	Cfg BuiltinConfig
}

// ValidateProfile implements scale.Plugin.
func (b *BuiltinV1) ValidateProfile(_ *scale.App, profile scale.Profile) error {
	_, err := NewBuiltinConfig(profile)
	return err
}

// PreConfigure implements scale.Plugin.
func (b *BuiltinV1) PreConfigure(_ *scale.App, profile scale.Profile) error {
	cfg, err := NewBuiltinConfig(profile)
	if err != nil {
		return err
	}
	b.Cfg = cfg
	return nil
}

// PrePostStart implements scale.Plugin.
func (b *BuiltinV1) PrePostStart(app *scale.App, profile scale.Profile) error {
	return b.PreConfigure(app, profile)
}

// NodeCount derives the node count from the container volume when both
// container settings are present, otherwise it is the configured count.
func (b *BuiltinV1) NodeCount() int {
	if b.Cfg.Containers > 0 && b.Cfg.ContainersPerNode > 0 {
		return int(math.Ceil(float64(b.Cfg.Containers) / float64(b.Cfg.ContainersPerNode)))
	}
	return b.Cfg.Count
}

// Hostname implements scale.Plugin.
func (b *BuiltinV1) Hostname(index int) string {
	return fmt.Sprintf("%s-%d", b.Cfg.HostnamePrefix, index)
}

// NodeSpec implements scale.Plugin.
func (b *BuiltinV1) NodeSpec(index int) (*experiment.Node, error) {
	return &experiment.Node{
		Type: "VirtualMachine",
		General: experiment.General{
			Hostname: b.Hostname(index),
			VMType:   "kvm",
		},
		Network: experiment.Network{Interfaces: []experiment.Interface{}},
	}, nil
}

// NodeConfigured implements scale.Plugin.
func (b *BuiltinV1) NodeConfigured(_ *scale.App, _ int, _ string) error { return nil }

// StartupCommands implements scale.Plugin.
func (b *BuiltinV1) StartupCommands(_ int, _ string) string { return "" }

// ContainerCount packs containers_per_node containers onto each node, with
// the remainder on the last one.
func (b *BuiltinV1) ContainerCount(index int) int {
	if b.Cfg.Containers > 0 && b.Cfg.ContainersPerNode > 0 {
		total := b.Cfg.Containers
		perNode := b.Cfg.ContainersPerNode
		nodes := b.NodeCount()

		if index == nodes {
			return total - (nodes-1)*perNode
		}
		return perNode
	}
	return 0
}

// Containers implements scale.Plugin.
func (b *BuiltinV1) Containers(_ *scale.App, index int, hostname string) ([]scale.Container, error) {
	count := b.ContainerCount(index)
	out := make([]scale.Container, 0, count)
	for c := 1; c <= count; c++ {
		out = append(out, scale.Container{
			Type:  "generic",
			Name:  fmt.Sprintf("%s-c%d", hostname, c),
			Image: b.Cfg.ContainerImage,
		})
	}
	return out, nil
}

// Config implements scale.Plugin.
func (b *BuiltinV1) Config() map[string]any {
	return b.Cfg.ToMap()
}

// BuiltinV2 demonstrates plugin versioning: identical behavior with a
// version-marked hostname.
type BuiltinV2 struct {
	BuiltinV1
}

// PreConfigure implements scale.Plugin.
func (b *BuiltinV2) PreConfigure(app *scale.App, profile scale.Profile) error {
	if err := b.BuiltinV1.PreConfigure(app, profile); err != nil {
		return err
	}
	if app != nil && app.Log != nil {
		app.Log.Info("using builtin plugin v2.0.0",
			zap.String("profile", profile.Name()))
	}
	return nil
}

// Hostname marks v2-scaled hosts.
func (b *BuiltinV2) Hostname(index int) string {
	return fmt.Sprintf("v2-%s-%d", b.Cfg.HostnamePrefix, index)
}

// NodeSpec uses the v2 hostname.
func (b *BuiltinV2) NodeSpec(index int) (*experiment.Node, error) {
	node, err := b.BuiltinV1.NodeSpec(index)
	if err != nil {
		return nil, err
	}
	node.General.Hostname = b.Hostname(index)
	return node, nil
}
