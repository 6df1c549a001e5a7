// Package config describes a memory system in YAML.
//
// A configuration names geometries and networks once and lets modules refer
// to them. Modules are listed in order; the order is also the order in which
// they are created and reported.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Module types.
const (
	TypeCache       = "cache"
	TypeMainMemory  = "main_memory"
	TypeLocalMemory = "local_memory"
)

// Config is a memory system.
type Config struct {
	General    General             `yaml:"general"`
	Geometries map[string]Geometry `yaml:"geometries"`
	Networks   map[string]Network  `yaml:"networks"`
	Modules    []Module            `yaml:"modules"`
}

// General holds the system-wide settings.
type General struct {
	Frequency     string `yaml:"frequency"`
	Seed          int64  `yaml:"seed"`
	PeerTransfers bool   `yaml:"peer_transfers"`
}

// Geometry is a cache organization shared by any number of modules.
type Geometry struct {
	Sets             int    `yaml:"sets"`
	Ways             int    `yaml:"ways"`
	BlockSize        int    `yaml:"block_size"`
	Latency          int    `yaml:"latency"`
	DirectoryLatency int    `yaml:"directory_latency"`
	Policy           string `yaml:"policy"`
	WritePolicy      string `yaml:"write_policy"`
	Ports            int    `yaml:"ports"`
	MSHR             int    `yaml:"mshr"`
}

// Network is an interconnect between one module and the modules above it.
type Network struct {
	Latency    int `yaml:"latency"`
	Bandwidth  int `yaml:"bandwidth"`
	BufferSize int `yaml:"buffer_size"`
}

// Module is one cache or memory.
//
// Caches and local memories take their organization from Geometry. A main
// memory has no geometry; its directory is DirectorySize blocks organized in
// DirectoryAssoc ways.
type Module struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Geometry    string   `yaml:"geometry"`
	HighNetwork string   `yaml:"high_network"`
	LowNetwork  string   `yaml:"low_network"`
	LowModules  []string `yaml:"low_modules"`
	Range       string   `yaml:"range"`

	BlockSize        int `yaml:"block_size"`
	Latency          int `yaml:"latency"`
	DirectoryLatency int `yaml:"directory_latency"`
	Ports            int `yaml:"ports"`
	DirectorySize    int `yaml:"directory_size"`
	DirectoryAssoc   int `yaml:"directory_assoc"`
}

// Load reads, completes, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading memory config: %w", err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return c, nil
}

// Parse decodes a configuration, applies the defaults, and validates the
// result. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var c Config
	if err := decoder.Decode(&c); err != nil {
		return nil, fmt.Errorf("parsing memory config: %w", err)
	}

	c.ApplyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// ModuleByName returns the module with the given name.
func (c *Config) ModuleByName(name string) (*Module, bool) {
	for i := range c.Modules {
		if c.Modules[i].Name == name {
			return &c.Modules[i], true
		}
	}

	return nil, false
}

// BlockSizeOf returns the block size of a module.
func (c *Config) BlockSizeOf(m *Module) int {
	if m.Type == TypeMainMemory {
		return m.BlockSize
	}

	return c.Geometries[m.Geometry].BlockSize
}
