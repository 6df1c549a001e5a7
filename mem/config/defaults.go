package config

// Defaults of the optional settings.
const (
	DefaultFrequency        = "1GHz"
	DefaultSeed             = 1
	DefaultPolicy           = "LRU"
	DefaultWritePolicy      = "writeback"
	DefaultPorts            = 2
	DefaultMSHR             = 16
	DefaultDirectoryLatency = 1
	DefaultDirectorySize    = 1024
	DefaultDirectoryAssoc   = 8
	DefaultRange            = "BOUNDS 0x0 0xffffffffffffffff"
)

// ApplyDefaults fills in the settings left empty.
func (c *Config) ApplyDefaults() {
	if c.General.Frequency == "" {
		c.General.Frequency = DefaultFrequency
	}

	if c.General.Seed == 0 {
		c.General.Seed = DefaultSeed
	}

	for name, g := range c.Geometries {
		c.Geometries[name] = g.withDefaults()
	}

	for i := range c.Modules {
		m := &c.Modules[i]

		if m.Range == "" {
			m.Range = DefaultRange
		}

		if m.Type != TypeMainMemory {
			continue
		}

		if m.Ports == 0 {
			m.Ports = DefaultPorts
		}

		if m.DirectoryLatency == 0 {
			m.DirectoryLatency = DefaultDirectoryLatency
		}

		if m.DirectorySize == 0 {
			m.DirectorySize = DefaultDirectorySize
		}

		if m.DirectoryAssoc == 0 {
			m.DirectoryAssoc = DefaultDirectoryAssoc
		}
	}
}

func (g Geometry) withDefaults() Geometry {
	if g.Policy == "" {
		g.Policy = DefaultPolicy
	}

	if g.WritePolicy == "" {
		g.WritePolicy = DefaultWritePolicy
	}

	if g.Ports == 0 {
		g.Ports = DefaultPorts
	}

	if g.MSHR == 0 {
		g.MSHR = DefaultMSHR
	}

	if g.DirectoryLatency == 0 {
		g.DirectoryLatency = DefaultDirectoryLatency
	}

	return g
}
