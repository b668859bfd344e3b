// Package scale implements the scale experiment app: it grows an
// experiment's topology from a small profile description instead of a
// hand-written node list. Profiles select a plugin (builtin or external)
// that decides how many nodes to add, what each looks like, and which
// containers run on them.
package scale

import (
	"fmt"

	"rangekit/pkg/experiment"
)

// Profile is one scale profile from the app's metadata.
type Profile map[string]any

// Name returns the profile's name, or "default".
func (p Profile) Name() string {
	if v, ok := p["name"].(string); ok && v != "" {
		return v
	}
	return "default"
}

// PluginRef returns the plugin name and version the profile requests.
// The plugin key is either a plain string or a {name, version} map; both
// default to the builtin plugin at the latest version.
func (p Profile) PluginRef() (name, version string) {
	name, version = "builtin", VersionLatest

	switch v := p["plugin"].(type) {
	case nil:
	case string:
		if v != "" {
			name = v
		}
	case map[string]any:
		if n, ok := v["name"].(string); ok && n != "" {
			name = n
		}
		if ver, ok := v["version"].(string); ok && ver != "" {
			version = ver
		}
	}
	return name, version
}

// Container is one container a plugin schedules onto a node.
type Container struct {
	// Type is the container role (e.g. main-controller).
	Type string

	// Name is the unique container name on the node.
	Name string

	// Image is the container image.
	Image string

	// IPs are CIDR-notated addresses assigned to the container.
	IPs []string

	// Gateway is the container's default gateway, when statically addressed.
	Gateway string

	// TopologyIP is the address other apps reference this container by,
	// without the prefix length. Empty for containers on internal networks.
	TopologyIP string
}

// Plugin decides the shape of the nodes a profile adds. PreConfigure or
// PrePostStart runs before any other method and receives the profile;
// index arguments are 1-based node indices.
type Plugin interface {
	// ValidateProfile rejects malformed profiles before any work happens.
	ValidateProfile(app *App, profile Profile) error

	// PreConfigure prepares the plugin for the configure stage.
	PreConfigure(app *App, profile Profile) error

	// NodeCount is the number of nodes this profile adds.
	NodeCount() int

	// Hostname names the index-th node.
	Hostname(index int) string

	// NodeSpec builds the topology node for the index-th host.
	NodeSpec(index int) (*experiment.Node, error)

	// NodeConfigured runs after the index-th node joins the topology.
	NodeConfigured(app *App, index int, hostname string) error

	// StartupCommands returns extra commands appended to the host's
	// generated command file. Empty means none.
	StartupCommands(index int, hostname string) string

	// PrePostStart prepares the plugin for the post-start stage.
	PrePostStart(app *App, profile Profile) error

	// ContainerCount is how many containers run on the index-th node.
	ContainerCount(index int) int

	// Containers describes the containers for the index-th node.
	Containers(app *App, index int, hostname string) ([]Container, error)

	// Config reports the plugin's resolved configuration for the record
	// the app leaves in the experiment document.
	Config() map[string]any
}

// ExternalNetwork is the shared shape plugins use for a container's
// externally routed network.
type ExternalNetwork struct {
	Name    string `yaml:"name"`
	Network string `yaml:"network,omitempty"`
	Gateway string `yaml:"gateway,omitempty"`
}

// NetworkInfo describes one processed network.
type NetworkInfo struct {
	Prefix int
}

func (e ExternalNetwork) validate() error {
	if e.Name == "" {
		return fmt.Errorf("external_network must be defined with a name")
	}
	return nil
}
