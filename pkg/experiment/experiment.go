// Package experiment models the experiment document apps receive on stdin
// and emit on stdout. Only the fields apps actually read or write are typed;
// scenario and host metadata stay as free-form maps because every app
// defines its own metadata shape.
//
// Apps sit in a pipeline: the document they emit is the document the next
// app receives. Fields this package has no types for (other apps' node
// settings, operator annotations, scheduler hints) must therefore survive
// the round trip untouched. Every document struct keeps the unmodeled keys
// of its JSON object in a raw sidecar and merges them back on encode.
package experiment

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Experiment is the top-level document.
type Experiment struct {
	Metadata Metadata `json:"metadata"`
	Spec     Spec     `json:"spec"`
	Status   Status   `json:"status,omitempty"`

	raw rawFields
}

// Metadata identifies the experiment.
type Metadata struct {
	Name        string            `json:"name"`
	Annotations map[string]string `json:"annotations,omitempty"`

	raw rawFields
}

// Spec carries the experiment definition.
type Spec struct {
	ExperimentName string    `json:"experimentName"`
	BaseDir        string    `json:"baseDir,omitempty"`
	DeployMode     string    `json:"deployMode,omitempty"`
	Topology       *Topology `json:"topology,omitempty"`
	Scenario       *Scenario `json:"scenario,omitempty"`
	VLANs          *VLANSpec `json:"vlans,omitempty"`

	raw rawFields
}

// Status is written by the orchestrator, read-only for apps.
type Status struct {
	StartTime string `json:"startTime,omitempty"`

	raw rawFields
}

// Topology is the set of hosts in the experiment.
type Topology struct {
	Nodes []*Node `json:"nodes"`

	raw rawFields
}

// Node describes a single topology host.
type Node struct {
	Type       string            `json:"type"`
	General    General           `json:"general"`
	Hardware   Hardware          `json:"hardware"`
	Network    Network           `json:"network"`
	Injections []Injection       `json:"injections,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`

	raw rawFields
}

// General holds node identity fields.
type General struct {
	Hostname    string `json:"hostname"`
	Description string `json:"description,omitempty"`
	VMType      string `json:"vm_type,omitempty"`

	raw rawFields
}

// Hardware describes node resources.
type Hardware struct {
	OSType string  `json:"os_type,omitempty"`
	VCPUs  int     `json:"vcpus,omitempty"`
	Memory int     `json:"memory,omitempty"`
	Drives []Drive `json:"drives,omitempty"`

	raw rawFields
}

// Drive is a node disk.
type Drive struct {
	Image string `json:"image"`

	raw rawFields
}

// Network holds node interfaces.
type Network struct {
	Interfaces []Interface `json:"interfaces"`

	raw rawFields
}

// Interface is a single NIC definition.
type Interface struct {
	Name    string `json:"name"`
	VLAN    string `json:"vlan,omitempty"`
	Address string `json:"address,omitempty"`
	Mask    int    `json:"mask,omitempty"`
	Gateway string `json:"gateway,omitempty"`
	Proto   string `json:"proto,omitempty"`
	Type    string `json:"type,omitempty"`

	raw rawFields
}

// Injection copies a file into a node before boot.
type Injection struct {
	Src string `json:"src"`
	Dst string `json:"dst"`

	raw rawFields
}

// Scenario lists the apps attached to the experiment.
type Scenario struct {
	Apps []*ScenarioApp `json:"apps"`

	raw rawFields
}

// ScenarioApp is one app entry with its metadata and per-host metadata.
type ScenarioApp struct {
	Name     string         `json:"name"`
	AssetDir string         `json:"assetDir,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Hosts    []*AppHost     `json:"hosts,omitempty"`

	raw rawFields
}

// AppHost is per-host app metadata.
type AppHost struct {
	Hostname string         `json:"hostname"`
	Metadata map[string]any `json:"metadata,omitempty"`

	raw rawFields
}

// VLANSpec maps VLAN aliases to IDs.
type VLANSpec struct {
	Aliases map[string]int `json:"aliases,omitempty"`
	Min     int            `json:"min,omitempty"`
	Max     int            `json:"max,omitempty"`

	raw rawFields
}

// Decode reads an experiment document as JSON.
func Decode(r io.Reader) (*Experiment, error) {
	var exp Experiment
	dec := json.NewDecoder(r)
	if err := dec.Decode(&exp); err != nil {
		return nil, fmt.Errorf("failed to decode experiment: %w", err)
	}
	return &exp, nil
}

// Encode writes the experiment document as indented JSON.
func (e *Experiment) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("failed to encode experiment: %w", err)
	}
	return nil
}

// Name returns the experiment name, preferring spec.experimentName.
func (e *Experiment) Name() string {
	if e.Spec.ExperimentName != "" {
		return e.Spec.ExperimentName
	}
	return e.Metadata.Name
}

// App returns the scenario entry for the named app, or nil.
func (e *Experiment) App(name string) *ScenarioApp {
	if e.Spec.Scenario == nil {
		return nil
	}
	for _, a := range e.Spec.Scenario.Apps {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// AddNode appends a node to the topology, creating it if needed.
func (e *Experiment) AddNode(n *Node) {
	if e.Spec.Topology == nil {
		e.Spec.Topology = &Topology{}
	}
	e.Spec.Topology.Nodes = append(e.Spec.Topology.Nodes, n)
}

// Nodes returns the topology nodes (never nil).
func (e *Experiment) Nodes() []*Node {
	if e.Spec.Topology == nil {
		return nil
	}
	return e.Spec.Topology.Nodes
}

// FindNode returns the topology node with the given hostname, or nil.
func (e *Experiment) FindNode(hostname string) *Node {
	for _, n := range e.Nodes() {
		if n.General.Hostname == hostname {
			return n
		}
	}
	return nil
}

// VLANAlias resolves a VLAN alias to its ID.
func (e *Experiment) VLANAlias(name string) (int, bool) {
	if e.Spec.VLANs == nil {
		return 0, false
	}
	id, ok := e.Spec.VLANs.Aliases[name]
	return id, ok
}

// Host returns the per-host metadata entry for hostname, or nil.
func (a *ScenarioApp) Host(hostname string) *AppHost {
	for _, h := range a.Hosts {
		if h.Hostname == hostname {
			return h
		}
	}
	return nil
}

// SetHostMetadata upserts per-host metadata on the scenario app entry.
func (a *ScenarioApp) SetHostMetadata(hostname string, md map[string]any) {
	if h := a.Host(hostname); h != nil {
		h.Metadata = md
		return
	}
	a.Hosts = append(a.Hosts, &AppHost{Hostname: hostname, Metadata: md})
}

// DecodeMetadata unmarshals a free-form metadata map into a typed struct.
// Metadata is authored as YAML in scenario files, so YAML tags and coercion
// rules apply (strings holding numbers decode into ints, etc.).
func DecodeMetadata(md map[string]any, dst any) error {
	data, err := yaml.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to re-encode metadata: %w", err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	return nil
}

// rawFields holds a JSON object's unmodeled keys.
type rawFields map[string]json.RawMessage

// splitRaw returns the object's keys that are not in known.
func splitRaw(data []byte, known ...string) (rawFields, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// mergeRaw marshals v and folds the raw sidecar back in. Typed fields win
// on a key collision.
func mergeRaw(v any, raw rawFields) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return data, nil
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, val := range raw {
		if _, ok := all[k]; !ok {
			all[k] = val
		}
	}
	return json.Marshal(all)
}

// The plain aliases below strip the custom methods so the stdlib handles
// the typed fields; the sidecar catches everything else.

func (e *Experiment) UnmarshalJSON(data []byte) error {
	type plain Experiment
	if err := json.Unmarshal(data, (*plain)(e)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "metadata", "spec", "status")
	if err != nil {
		return err
	}
	e.raw = raw
	return nil
}

func (e Experiment) MarshalJSON() ([]byte, error) {
	type plain Experiment
	return mergeRaw(plain(e), e.raw)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	type plain Metadata
	if err := json.Unmarshal(data, (*plain)(m)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "name", "annotations")
	if err != nil {
		return err
	}
	m.raw = raw
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	type plain Metadata
	return mergeRaw(plain(m), m.raw)
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	type plain Spec
	if err := json.Unmarshal(data, (*plain)(s)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "experimentName", "baseDir", "deployMode", "topology", "scenario", "vlans")
	if err != nil {
		return err
	}
	s.raw = raw
	return nil
}

func (s Spec) MarshalJSON() ([]byte, error) {
	type plain Spec
	return mergeRaw(plain(s), s.raw)
}

func (s *Status) UnmarshalJSON(data []byte) error {
	type plain Status
	if err := json.Unmarshal(data, (*plain)(s)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "startTime")
	if err != nil {
		return err
	}
	s.raw = raw
	return nil
}

func (s Status) MarshalJSON() ([]byte, error) {
	type plain Status
	return mergeRaw(plain(s), s.raw)
}

func (t *Topology) UnmarshalJSON(data []byte) error {
	type plain Topology
	if err := json.Unmarshal(data, (*plain)(t)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "nodes")
	if err != nil {
		return err
	}
	t.raw = raw
	return nil
}

func (t Topology) MarshalJSON() ([]byte, error) {
	type plain Topology
	return mergeRaw(plain(t), t.raw)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node
	if err := json.Unmarshal(data, (*plain)(n)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "type", "general", "hardware", "network", "injections", "labels")
	if err != nil {
		return err
	}
	n.raw = raw
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	type plain Node
	return mergeRaw(plain(n), n.raw)
}

func (g *General) UnmarshalJSON(data []byte) error {
	type plain General
	if err := json.Unmarshal(data, (*plain)(g)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "hostname", "description", "vm_type")
	if err != nil {
		return err
	}
	g.raw = raw
	return nil
}

func (g General) MarshalJSON() ([]byte, error) {
	type plain General
	return mergeRaw(plain(g), g.raw)
}

func (h *Hardware) UnmarshalJSON(data []byte) error {
	type plain Hardware
	if err := json.Unmarshal(data, (*plain)(h)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "os_type", "vcpus", "memory", "drives")
	if err != nil {
		return err
	}
	h.raw = raw
	return nil
}

func (h Hardware) MarshalJSON() ([]byte, error) {
	type plain Hardware
	return mergeRaw(plain(h), h.raw)
}

func (d *Drive) UnmarshalJSON(data []byte) error {
	type plain Drive
	if err := json.Unmarshal(data, (*plain)(d)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "image")
	if err != nil {
		return err
	}
	d.raw = raw
	return nil
}

func (d Drive) MarshalJSON() ([]byte, error) {
	type plain Drive
	return mergeRaw(plain(d), d.raw)
}

func (n *Network) UnmarshalJSON(data []byte) error {
	type plain Network
	if err := json.Unmarshal(data, (*plain)(n)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "interfaces")
	if err != nil {
		return err
	}
	n.raw = raw
	return nil
}

func (n Network) MarshalJSON() ([]byte, error) {
	type plain Network
	return mergeRaw(plain(n), n.raw)
}

func (i *Interface) UnmarshalJSON(data []byte) error {
	type plain Interface
	if err := json.Unmarshal(data, (*plain)(i)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "name", "vlan", "address", "mask", "gateway", "proto", "type")
	if err != nil {
		return err
	}
	i.raw = raw
	return nil
}

func (i Interface) MarshalJSON() ([]byte, error) {
	type plain Interface
	return mergeRaw(plain(i), i.raw)
}

func (i *Injection) UnmarshalJSON(data []byte) error {
	type plain Injection
	if err := json.Unmarshal(data, (*plain)(i)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "src", "dst")
	if err != nil {
		return err
	}
	i.raw = raw
	return nil
}

func (i Injection) MarshalJSON() ([]byte, error) {
	type plain Injection
	return mergeRaw(plain(i), i.raw)
}

func (s *Scenario) UnmarshalJSON(data []byte) error {
	type plain Scenario
	if err := json.Unmarshal(data, (*plain)(s)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "apps")
	if err != nil {
		return err
	}
	s.raw = raw
	return nil
}

func (s Scenario) MarshalJSON() ([]byte, error) {
	type plain Scenario
	return mergeRaw(plain(s), s.raw)
}

func (a *ScenarioApp) UnmarshalJSON(data []byte) error {
	type plain ScenarioApp
	if err := json.Unmarshal(data, (*plain)(a)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "name", "assetDir", "metadata", "hosts")
	if err != nil {
		return err
	}
	a.raw = raw
	return nil
}

func (a ScenarioApp) MarshalJSON() ([]byte, error) {
	type plain ScenarioApp
	return mergeRaw(plain(a), a.raw)
}

func (h *AppHost) UnmarshalJSON(data []byte) error {
	type plain AppHost
	if err := json.Unmarshal(data, (*plain)(h)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "hostname", "metadata")
	if err != nil {
		return err
	}
	h.raw = raw
	return nil
}

func (h AppHost) MarshalJSON() ([]byte, error) {
	type plain AppHost
	return mergeRaw(plain(h), h.raw)
}

func (v *VLANSpec) UnmarshalJSON(data []byte) error {
	type plain VLANSpec
	if err := json.Unmarshal(data, (*plain)(v)); err != nil {
		return err
	}
	raw, err := splitRaw(data, "aliases", "min", "max")
	if err != nil {
		return err
	}
	v.raw = raw
	return nil
}

func (v VLANSpec) MarshalJSON() ([]byte, error) {
	type plain VLANSpec
	return mergeRaw(plain(v), v.raw)
}
