package system

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/memsim/mem/module"
	"github.com/sarchlab/memsim/noc/network"
	"github.com/sarchlab/memsim/sim/hooking"
)

// Report summarizes a run.
type Report struct {
	Cycles   uint64            `yaml:"cycles"`
	Issued   int               `yaml:"issued"`
	Finished int               `yaml:"finished"`
	Modules  []ModuleReport    `yaml:"modules"`
	Networks []NetworkReport   `yaml:"networks,omitempty"`
	Steps    map[string]uint64 `yaml:"steps,omitempty"`
}

// ModuleReport holds the counters of one module.
type ModuleReport struct {
	Name     string       `yaml:"name"`
	Kind     string       `yaml:"kind"`
	HitRatio float64      `yaml:"hit_ratio"`
	Stats    module.Stats `yaml:",inline"`
}

// NetworkReport holds the traffic of one network.
type NetworkReport struct {
	Name  string        `yaml:"name"`
	Stats network.Stats `yaml:",inline"`
	Links []LinkReport  `yaml:"links,omitempty"`
}

// LinkReport is the traffic delivered from one node to another.
type LinkReport struct {
	Src   string `yaml:"src"`
	Dst   string `yaml:"dst"`
	Bytes uint64 `yaml:"bytes"`
}

// Report collects the statistics of the modules and networks. If steps is
// not nil, the protocol steps it counted are included.
func (s *System) Report(steps *hooking.StepCountTracer) Report {
	r := Report{
		Cycles:   s.Sim.Cycle(),
		Issued:   s.issued,
		Finished: s.finished,
	}

	for _, m := range s.modules {
		r.Modules = append(r.Modules, ModuleReport{
			Name:     m.Name,
			Kind:     m.Kind.String(),
			HitRatio: m.Stats.HitRatio(),
			Stats:    m.Stats,
		})
	}

	for _, n := range s.networks {
		r.Networks = append(r.Networks, NetworkReport{
			Name:  n.Name(),
			Stats: n.Stats(),
			Links: linksOf(s.traffic[n.Name()]),
		})
	}

	if steps != nil {
		r.Steps = make(map[string]uint64)
		for _, name := range steps.StepNames() {
			r.Steps[name] = steps.StepCount(name)
		}
	}

	return r
}

func linksOf(c *network.TrafficCounter) []LinkReport {
	links := make([]LinkReport, 0, len(c.PerLink))
	for link, bytes := range c.PerLink {
		links = append(links, LinkReport{Src: link[0], Dst: link[1], Bytes: bytes})
	}

	sort.Slice(links, func(i, j int) bool {
		if links[i].Src != links[j].Src {
			return links[i].Src < links[j].Src
		}

		return links[i].Dst < links[j].Dst
	})

	return links
}

// WriteYAML writes the report as a YAML document.
func (r Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	return enc.Close()
}
