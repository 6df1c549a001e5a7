package config

import (
	"errors"
	"fmt"

	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/sim/timing"
)

// Validate checks the configuration. It reports every problem it finds,
// each prefixed with the section it belongs to.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateGeneral()...)

	for name, g := range c.Geometries {
		for _, err := range g.validate() {
			errs = append(errs, fmt.Errorf("geometry %s: %w", name, err))
		}
	}

	for name, n := range c.Networks {
		if n.Latency < 0 || n.Bandwidth < 0 || n.BufferSize < 0 {
			errs = append(errs,
				fmt.Errorf("network %s: negative latency, bandwidth, or buffer size", name))
		}
	}

	if len(c.Modules) == 0 {
		errs = append(errs, errors.New("modules: no module defined"))
	}

	names := make(map[string]bool)

	for i := range c.Modules {
		m := &c.Modules[i]

		if m.Name == "" {
			errs = append(errs, fmt.Errorf("modules[%d]: missing name", i))
			continue
		}

		if names[m.Name] {
			errs = append(errs, fmt.Errorf("module %s: defined twice", m.Name))
		}

		names[m.Name] = true

		for _, err := range c.validateModule(m) {
			errs = append(errs, fmt.Errorf("module %s: %w", m.Name, err))
		}
	}

	if len(errs) == 0 {
		errs = append(errs, c.validateLinks()...)
	}

	if len(errs) == 0 {
		if err := c.validateAcyclic(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validateGeneral() []error {
	var errs []error

	if _, err := timing.ParseFreq(c.General.Frequency); err != nil {
		errs = append(errs, fmt.Errorf("general: %w", err))
	}

	return errs
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func (g Geometry) validate() []error {
	var errs []error

	if !isPowerOfTwo(g.Sets) {
		errs = append(errs, fmt.Errorf("sets %d is not a power of two", g.Sets))
	}

	if !isPowerOfTwo(g.Ways) {
		errs = append(errs, fmt.Errorf("ways %d is not a power of two", g.Ways))
	}

	if !isPowerOfTwo(g.BlockSize) {
		errs = append(errs,
			fmt.Errorf("block size %d is not a power of two", g.BlockSize))
	}

	if g.Latency < 0 || g.DirectoryLatency < 0 {
		errs = append(errs, errors.New("negative latency"))
	}

	if g.Ports < 1 {
		errs = append(errs, fmt.Errorf("invalid number of ports %d", g.Ports))
	}

	if g.MSHR < 0 {
		errs = append(errs, fmt.Errorf("invalid MSHR size %d", g.MSHR))
	}

	if _, err := cache.ParsePolicy(g.Policy); err != nil {
		errs = append(errs, err)
	}

	if _, err := cache.ParseWritePolicy(g.WritePolicy); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func (c *Config) validateModule(m *Module) []error {
	var errs []error

	switch m.Type {
	case TypeCache, TypeLocalMemory:
		if _, ok := c.Geometries[m.Geometry]; !ok {
			errs = append(errs, fmt.Errorf("unknown geometry %q", m.Geometry))
		}
	case TypeMainMemory:
		errs = append(errs, m.validateMainMemory()...)
	default:
		errs = append(errs, fmt.Errorf("unknown type %q", m.Type))
	}

	if m.Type != TypeCache && len(m.LowModules) > 0 {
		errs = append(errs, fmt.Errorf("a %s cannot have low modules", m.Type))
	}

	if m.Type == TypeCache && len(m.LowModules) == 0 {
		errs = append(errs, errors.New("a cache needs low modules"))
	}

	if m.Type == TypeLocalMemory && (m.HighNetwork != "" || m.LowNetwork != "") {
		errs = append(errs, errors.New("a local memory cannot join networks"))
	}

	for _, net := range []string{m.HighNetwork, m.LowNetwork} {
		if net == "" {
			continue
		}

		if _, ok := c.Networks[net]; !ok {
			errs = append(errs, fmt.Errorf("unknown network %q", net))
		}
	}

	if len(m.LowModules) > 0 && m.LowNetwork == "" {
		errs = append(errs, errors.New("low modules need a low network"))
	}

	if _, err := ParseRange(m.Range); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func (m *Module) validateMainMemory() []error {
	var errs []error

	if !isPowerOfTwo(m.BlockSize) {
		errs = append(errs,
			fmt.Errorf("block size %d is not a power of two", m.BlockSize))
	}

	if m.Latency < 0 || m.DirectoryLatency < 0 {
		errs = append(errs, errors.New("negative latency"))
	}

	if m.Ports < 1 {
		errs = append(errs, fmt.Errorf("invalid number of ports %d", m.Ports))
	}

	if !isPowerOfTwo(m.DirectorySize) {
		errs = append(errs, fmt.Errorf("directory size %d is not a power of two",
			m.DirectorySize))
	}

	if !isPowerOfTwo(m.DirectoryAssoc) || m.DirectoryAssoc > m.DirectorySize {
		errs = append(errs, fmt.Errorf("invalid directory associativity %d",
			m.DirectoryAssoc))
	}

	return errs
}

// validateLinks checks that every low module sits on the network its high
// module talks through, and that messages fit the network buffers.
func (c *Config) validateLinks() []error {
	var errs []error

	for i := range c.Modules {
		m := &c.Modules[i]

		for _, name := range m.LowModules {
			low, ok := c.ModuleByName(name)
			if !ok {
				errs = append(errs,
					fmt.Errorf("module %s: unknown low module %q", m.Name, name))

				continue
			}

			if low.HighNetwork != m.LowNetwork {
				errs = append(errs, fmt.Errorf(
					"module %s: low module %s is on network %q, not %q",
					m.Name, name, low.HighNetwork, m.LowNetwork))
			}

			if c.BlockSizeOf(low)%c.BlockSizeOf(m) != 0 {
				errs = append(errs, fmt.Errorf(
					"module %s: block size does not divide that of %s",
					m.Name, name))
			}
		}

		for _, netName := range []string{m.HighNetwork, m.LowNetwork} {
			net := c.Networks[netName]
			if netName == "" || net.BufferSize == 0 {
				continue
			}

			if net.BufferSize < c.BlockSizeOf(m)+8 {
				errs = append(errs, fmt.Errorf(
					"network %s: buffer of %d bytes cannot hold a block of %s",
					netName, net.BufferSize, m.Name))
			}
		}
	}

	return errs
}

// validateAcyclic rejects a module that is, directly or not, below itself.
func (c *Config) validateAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int)

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("module %s: cycle in low modules", name)
		case done:
			return nil
		}

		state[name] = visiting

		m, _ := c.ModuleByName(name)
		for _, low := range m.LowModules {
			if err := visit(low); err != nil {
				return err
			}
		}

		state[name] = done

		return nil
	}

	for i := range c.Modules {
		if err := visit(c.Modules[i].Name); err != nil {
			return err
		}
	}

	return nil
}
