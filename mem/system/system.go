// Package system assembles a memory system from a configuration and drives
// it: clients issue accesses and flushes at given cycles, command scripts
// preset and check cache and directory contents, and reports summarize the
// statistics of a run.
package system

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/config"
	"github.com/sarchlab/memsim/mem/module"
	"github.com/sarchlab/memsim/mem/protocol"
	"github.com/sarchlab/memsim/noc/network"
	"github.com/sarchlab/memsim/sim/esim"
	"github.com/sarchlab/memsim/sim/hooking"
	"github.com/sarchlab/memsim/sim/timing"
)

// ErrBusy is returned when a module cannot accept an access in the current
// cycle.
var ErrBusy = errors.New("module busy")

// System is a memory hierarchy ready to simulate.
type System struct {
	Config   *config.Config
	Timing   *timing.SerialEngine
	Sim      *esim.Engine
	Protocol *protocol.Engine

	modules      []*module.Module
	moduleByName map[string]*module.Module
	networks     []*network.Network
	netByName    map[string]*network.Network
	traffic      map[string]*network.TrafficCounter

	evIssue  *esim.EventType
	issued   int
	finished int
}

// Build creates the modules and networks of c and links them. c must be
// valid; see config.Parse.
func Build(c *config.Config) (*System, error) {
	freq, err := timing.ParseFreq(c.General.Frequency)
	if err != nil {
		return nil, err
	}

	s := &System{
		Config:       c,
		Timing:       timing.NewSerialEngine(),
		moduleByName: make(map[string]*module.Module),
		netByName:    make(map[string]*network.Network),
		traffic:      make(map[string]*network.TrafficCounter),
	}

	s.Sim = esim.NewEngine(s.Timing, freq)
	s.Protocol = protocol.NewEngine(s.Sim)
	s.evIssue = s.Sim.RegisterEventType("system_issue", s.handleIssue)

	s.buildNetworks()

	for i := range c.Modules {
		m, err := s.buildModule(&c.Modules[i], c.General.Seed+int64(i))
		if err != nil {
			return nil, err
		}

		s.modules = append(s.modules, m)
		s.moduleByName[m.Name] = m
	}

	if err := s.link(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *System) buildNetworks() {
	names := make([]string, 0, len(s.Config.Networks))
	for name := range s.Config.Networks {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		nc := s.Config.Networks[name]

		b := network.MakeBuilder().
			WithEngine(s.Sim).
			WithLatency(nc.Latency).
			WithBufferSize(nc.BufferSize)
		if nc.Bandwidth > 0 {
			b = b.WithBandwidth(nc.Bandwidth)
		}

		net := b.Build(name)
		s.networks = append(s.networks, net)
		s.netByName[name] = net

		s.traffic[name] = network.NewTrafficCounter()
		net.AcceptHook(s.traffic[name])
	}
}

func (s *System) buildModule(mc *config.Module, seed int64) (*module.Module, error) {
	r, err := config.ParseRange(mc.Range)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", mc.Name, err)
	}

	b := module.MakeBuilder().
		WithEngine(s.Sim).
		WithRange(r).
		WithRand(rand.New(rand.NewSource(seed))).
		WithPeerTransfers(s.Config.General.PeerTransfers)

	switch mc.Type {
	case config.TypeMainMemory:
		b = b.WithKind(module.KindMainMemory).
			WithGeometry(mc.DirectorySize/mc.DirectoryAssoc,
				mc.DirectoryAssoc, mc.BlockSize).
			WithDataLatency(mc.Latency).
			WithDirectoryLatency(mc.DirectoryLatency).
			WithNumPorts(mc.Ports).
			WithMSHRSize(0)
	default:
		b, err = s.withGeometry(b, s.Config.Geometries[mc.Geometry])
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", mc.Name, err)
		}

		if mc.Type == config.TypeLocalMemory {
			b = b.WithKind(module.KindLocalMemory)
		}
	}

	return b.Build(mc.Name)
}

func (s *System) withGeometry(b module.Builder, g config.Geometry) (module.Builder, error) {
	policy, err := cache.ParsePolicy(g.Policy)
	if err != nil {
		return b, err
	}

	writePolicy, err := cache.ParseWritePolicy(g.WritePolicy)
	if err != nil {
		return b, err
	}

	return b.WithKind(module.KindCache).
		WithGeometry(g.Sets, g.Ways, g.BlockSize).
		WithPolicy(policy).
		WithWritePolicy(writePolicy).
		WithDataLatency(g.Latency).
		WithDirectoryLatency(g.DirectoryLatency).
		WithNumPorts(g.Ports).
		WithMSHRSize(g.MSHR), nil
}

// link attaches the modules to their networks and creates the directories.
// Directories are sized after the nodes of the high network, so every node
// must exist before the first directory is created.
func (s *System) link() error {
	for i, mc := range s.Config.Modules {
		m := s.modules[i]

		if mc.HighNetwork != "" {
			m.HighNet = s.netByName[mc.HighNetwork]
			m.HighNode = m.HighNet.AddEndNode(m.Name, m)
		}

		if mc.LowNetwork != "" {
			m.LowNet = s.netByName[mc.LowNetwork]
			m.LowNode = m.LowNet.AddEndNode(m.Name, m)
		}
	}

	for i, mc := range s.Config.Modules {
		for _, name := range mc.LowModules {
			low, ok := s.moduleByName[name]
			if !ok {
				return fmt.Errorf("module %s: unknown low module %q", mc.Name, name)
			}

			s.modules[i].AddLowModule(low)
		}
	}

	for _, m := range s.modules {
		if err := m.InitDirectory(); err != nil {
			return err
		}
	}

	return nil
}

// Module returns the module with the given name.
func (s *System) Module(name string) (*module.Module, bool) {
	m, ok := s.moduleByName[name]
	return m, ok
}

// Modules returns the modules in configuration order.
func (s *System) Modules() []*module.Module {
	return s.modules
}

// Network returns the network with the given name.
func (s *System) Network(name string) (*network.Network, bool) {
	n, ok := s.netByName[name]
	return n, ok
}

// Networks returns the networks sorted by name.
func (s *System) Networks() []*network.Network {
	return s.networks
}

// AcceptModuleHook attaches h to every module.
func (s *System) AcceptModuleHook(h hooking.Hook) {
	for _, m := range s.modules {
		m.AcceptHook(h)
	}
}

// AcceptNetworkHook attaches h to every network.
func (s *System) AcceptNetworkHook(h hooking.Hook) {
	for _, n := range s.networks {
		n.AcceptHook(h)
	}
}

// Access starts an access to mod in the current cycle. It returns ErrBusy
// if mod has no free port or MSHR entry.
func (s *System) Access(
	mod *module.Module,
	kind module.AccessKind,
	addr uint64,
) (*module.Frame, error) {
	if kind == module.AccessNone {
		return nil, fmt.Errorf("module %s: no access kind", mod.Name)
	}

	if !mod.CanAccess(addr) {
		return nil, fmt.Errorf("module %s: %w", mod.Name, ErrBusy)
	}

	s.issued++

	return s.Protocol.Access(mod, kind, addr, &s.finished), nil
}

// Flush writes back and invalidates every block of mod, starting in the
// current cycle.
func (s *System) Flush(mod *module.Module) *module.Frame {
	s.issued++

	return s.Protocol.Flush(mod, &s.finished)
}

// issueFrame is a client request waiting for its cycle.
type issueFrame struct {
	esim.FrameBase

	mod   *module.Module
	kind  module.AccessKind
	addr  uint64
	flush bool
}

// IssueAccessAt schedules an access to mod at the given cycle. An access
// that finds mod busy is retried on the next cycle.
func (s *System) IssueAccessAt(
	cycle uint64,
	mod *module.Module,
	kind module.AccessKind,
	addr uint64,
) {
	s.issueAt(cycle, &issueFrame{mod: mod, kind: kind, addr: addr})
}

// IssueFlushAt schedules a flush of mod at the given cycle.
func (s *System) IssueFlushAt(cycle uint64, mod *module.Module) {
	s.issueAt(cycle, &issueFrame{mod: mod, flush: true})
}

func (s *System) issueAt(cycle uint64, f *issueFrame) {
	now := s.Sim.Cycle()
	if cycle < now {
		cycle = now
	}

	s.Sim.Schedule(s.evIssue, f, int(cycle-now))
}

func (s *System) handleIssue(_ *esim.EventType, frame esim.Frame) {
	f := frame.(*issueFrame)

	if f.flush {
		s.Flush(f.mod)
		return
	}

	if _, err := s.Access(f.mod, f.kind, f.addr); errors.Is(err, ErrBusy) {
		s.Sim.Schedule(s.evIssue, f, 1)
	}
}

// NumIssued returns the number of accesses and flushes started.
func (s *System) NumIssued() int {
	return s.issued
}

// NumFinished returns the number of accesses and flushes completed.
func (s *System) NumFinished() int {
	return s.finished
}

// Run simulates until no event is left.
func (s *System) Run() error {
	return s.Sim.Run()
}
