package system

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/directory"
	"github.com/sarchlab/memsim/mem/module"
)

// Command names.
const (
	CmdSetBlock     = "SetBlock"
	CmdSetOwner     = "SetOwner"
	CmdSetSharers   = "SetSharers"
	CmdAccess       = "Access"
	CmdFlush        = "Flush"
	CmdCheckBlock   = "CheckBlock"
	CmdCheckOwner   = "CheckOwner"
	CmdCheckSharers = "CheckSharers"
)

var commandNames = []string{
	CmdSetBlock, CmdSetOwner, CmdSetSharers, CmdAccess, CmdFlush,
	CmdCheckBlock, CmdCheckOwner, CmdCheckSharers,
}

// none stands for "no owner" and "no sharer" in commands.
const none = "None"

// A Command is one line of a command script. Commands that set state or
// issue requests are applied before the simulation; Check commands are
// evaluated after it.
type Command struct {
	Line int
	Text string
	Name string
	Args []string
}

// IsCheck tells whether the command is evaluated after the simulation.
func (c Command) IsCheck() bool {
	return strings.HasPrefix(c.Name, "Check")
}

func (c Command) String() string {
	return fmt.Sprintf("line %d: %s", c.Line, c.Text)
}

// CheckResult is the outcome of a Check command.
type CheckResult struct {
	Command Command
	Passed  bool
	Message string
}

// ParseScript reads a command script: one command per line, fields
// separated by spaces. Empty lines and lines starting with '#' are
// skipped. Command names are case-insensitive.
func ParseScript(r io.Reader) ([]Command, error) {
	var cmds []Command

	scanner := bufio.NewScanner(r)
	line := 0

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)

		name, ok := canonicalName(fields[0])
		if !ok {
			return nil, fmt.Errorf("line %d: unknown command %q", line, fields[0])
		}

		cmds = append(cmds, Command{
			Line: line,
			Text: text,
			Name: name,
			Args: fields[1:],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading commands: %w", err)
	}

	return cmds, nil
}

func canonicalName(s string) (string, bool) {
	for _, name := range commandNames {
		if strings.EqualFold(s, name) {
			return name, true
		}
	}

	return "", false
}

// RunScript applies the commands, simulates until the system is idle, and
// evaluates the checks. A malformed command aborts the script before the
// simulation starts.
func (s *System) RunScript(cmds []Command) ([]CheckResult, error) {
	for _, cmd := range cmds {
		if cmd.IsCheck() {
			if _, err := s.parseCheck(cmd); err != nil {
				return nil, err
			}

			continue
		}

		if err := s.Apply(cmd); err != nil {
			return nil, err
		}
	}

	if err := s.Run(); err != nil {
		return nil, err
	}

	var results []CheckResult

	for _, cmd := range cmds {
		if !cmd.IsCheck() {
			continue
		}

		result, err := s.Check(cmd)
		if err != nil {
			return nil, err
		}

		results = append(results, result)
	}

	return results, nil
}

// Apply runs a command that sets state or issues a request.
func (s *System) Apply(cmd Command) error {
	a := s.args(cmd)

	switch cmd.Name {
	case CmdSetBlock:
		mod, set, way := a.block()
		tag := a.tag(mod, set)
		state := a.state()
		a.done()

		if a.err == nil {
			mod.Cache.SetBlock(set, way, tag, state)
		}
	case CmdSetOwner:
		mod, set, way := a.block()
		sub := a.subBlock(mod)
		owner := a.owner(mod)
		a.done()

		if a.err == nil {
			mod.Dir.SetOwner(set, way, sub, owner)
		}
	case CmdSetSharers:
		mod, set, way := a.block()
		sub := a.subBlock(mod)
		sharers := a.sharers(mod)

		if a.err == nil {
			mod.Dir.ClearAllSharers(set, way, sub)

			for _, node := range sharers {
				mod.Dir.SetSharer(set, way, sub, node)
			}
		}
	case CmdAccess:
		mod := a.module()
		cycle := a.number("cycle")
		kind := a.kind()
		addr := a.number("address")
		a.done()

		if a.err == nil {
			s.IssueAccessAt(cycle, mod, kind, addr)
		}
	case CmdFlush:
		mod := a.module()
		cycle := a.number("cycle")
		a.done()

		if a.err == nil {
			s.IssueFlushAt(cycle, mod)
		}
	default:
		return fmt.Errorf("%s: %s is evaluated after the simulation", cmd, cmd.Name)
	}

	return a.err
}

type check struct {
	mod      *module.Module
	set, way int
	sub      int
	tag      uint64
	state    cache.BlockState
	owner    int
	sharers  []int
}

func (s *System) parseCheck(cmd Command) (check, error) {
	var c check

	a := s.args(cmd)
	c.mod, c.set, c.way = a.block()

	switch cmd.Name {
	case CmdCheckBlock:
		c.tag = a.tag(c.mod, c.set)
		c.state = a.state()
		a.done()
	case CmdCheckOwner:
		c.sub = a.subBlock(c.mod)
		c.owner = a.owner(c.mod)
		a.done()
	case CmdCheckSharers:
		c.sub = a.subBlock(c.mod)
		c.sharers = a.sharers(c.mod)
	default:
		return c, fmt.Errorf("%s: %s is not a check", cmd, cmd.Name)
	}

	return c, a.err
}

// Check evaluates a Check command against the current state.
func (s *System) Check(cmd Command) (CheckResult, error) {
	c, err := s.parseCheck(cmd)
	if err != nil {
		return CheckResult{}, err
	}

	result := CheckResult{Command: cmd, Passed: true}

	switch cmd.Name {
	case CmdCheckBlock:
		tag, state := c.mod.Cache.GetBlock(c.set, c.way)
		if state != c.state || (state != cache.Invalid && tag != c.tag) {
			result.Passed = false
			result.Message = fmt.Sprintf("expected tag 0x%x state %s, got tag 0x%x state %s",
				c.tag, c.state, tag, state)
		}
	case CmdCheckOwner:
		owner := c.mod.Dir.Owner(c.set, c.way, c.sub)
		if owner != c.owner {
			result.Passed = false
			result.Message = fmt.Sprintf("expected owner %s, got %s",
				nodeName(c.mod, c.owner), nodeName(c.mod, owner))
		}
	case CmdCheckSharers:
		got := c.mod.Dir.Entry(c.set, c.way, c.sub).Sharers()
		if !sameNodes(got, c.sharers) {
			result.Passed = false
			result.Message = fmt.Sprintf("expected sharers %s, got %s",
				nodeNames(c.mod, c.sharers), nodeNames(c.mod, got))
		}
	}

	return result, nil
}

func sameNodes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}

	a = append([]int(nil), a...)
	b = append([]int(nil), b...)
	sort.Ints(a)
	sort.Ints(b)

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func nodeName(mod *module.Module, node int) string {
	if node == directory.NoOwner {
		return none
	}

	if high := mod.HighModuleAt(node); high != nil {
		return high.Name
	}

	return strconv.Itoa(node)
}

func nodeNames(mod *module.Module, nodes []int) string {
	if len(nodes) == 0 {
		return none
	}

	names := make([]string, len(nodes))
	for i, node := range nodes {
		names[i] = nodeName(mod, node)
	}

	sort.Strings(names)

	return strings.Join(names, " ")
}

// argReader consumes the arguments of a command. After the first error,
// every read returns a zero value and the error is kept.
type argReader struct {
	sys *System
	cmd Command
	pos int
	err error
}

func (s *System) args(cmd Command) *argReader {
	return &argReader{sys: s, cmd: cmd}
}

func (a *argReader) fail(format string, args ...any) {
	if a.err == nil {
		a.err = fmt.Errorf("%s: %s", a.cmd, fmt.Sprintf(format, args...))
	}
}

func (a *argReader) next(what string) string {
	if a.err != nil {
		return ""
	}

	if a.pos >= len(a.cmd.Args) {
		a.fail("missing %s", what)
		return ""
	}

	a.pos++

	return a.cmd.Args[a.pos-1]
}

func (a *argReader) rest() []string {
	if a.err != nil {
		return nil
	}

	r := a.cmd.Args[a.pos:]
	a.pos = len(a.cmd.Args)

	return r
}

func (a *argReader) done() {
	if a.err == nil && a.pos < len(a.cmd.Args) {
		a.fail("unexpected argument %q", a.cmd.Args[a.pos])
	}
}

func (a *argReader) module() *module.Module {
	name := a.next("module")
	if a.err != nil {
		return nil
	}

	mod, ok := a.sys.Module(name)
	if !ok {
		a.fail("unknown module %q", name)
	}

	return mod
}

func (a *argReader) number(what string) uint64 {
	s := a.next(what)
	if a.err != nil {
		return 0
	}

	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		a.fail("invalid %s %q", what, s)
	}

	return v
}

func (a *argReader) index(what string, limit int) int {
	v := a.number(what)
	if a.err == nil && v >= uint64(limit) {
		a.fail("%s %d out of range [0, %d)", what, v, limit)
	}

	return int(v)
}

func (a *argReader) block() (mod *module.Module, set, way int) {
	mod = a.module()
	if a.err != nil {
		return nil, 0, 0
	}

	set = a.index("set", mod.Cache.NumSets())
	way = a.index("way", mod.Cache.NumWays())

	return mod, set, way
}

func (a *argReader) subBlock(mod *module.Module) int {
	if a.err != nil {
		return 0
	}

	return a.index("sub-block", mod.NumSubBlocks)
}

// tag reads a block address and checks that it maps to set.
func (a *argReader) tag(mod *module.Module, set int) uint64 {
	tag := a.number("tag")
	if a.err != nil {
		return 0
	}

	if mod.Tag(tag) != tag {
		a.fail("tag 0x%x is not aligned to %d bytes", tag, mod.BlockSize)
		return 0
	}

	if !mod.ServesAddress(tag) {
		a.fail("module %s does not serve 0x%x", mod.Name, tag)
		return 0
	}

	if s, _, _, _, _ := mod.FindBlock(tag); s != set {
		a.fail("tag 0x%x belongs to set %d, not %d", tag, s, set)
	}

	return tag
}

func (a *argReader) state() cache.BlockState {
	s := a.next("state")
	if a.err != nil {
		return cache.Invalid
	}

	state, err := cache.ParseBlockState(s)
	if err != nil {
		a.fail("%v", err)
	}

	return state
}

func (a *argReader) kind() module.AccessKind {
	s := a.next("access kind")
	if a.err != nil {
		return module.AccessNone
	}

	kind, err := module.ParseAccessKind(s)
	if err != nil {
		a.fail("%v", err)
	}

	return kind
}

// highNode resolves a module name to its node on the high network of mod.
func (a *argReader) highNode(mod *module.Module, name string) int {
	if mod.HighNet == nil {
		a.fail("module %s has no high modules", mod.Name)
		return directory.NoOwner
	}

	node, ok := mod.HighNet.NodeByName(name)
	if !ok {
		a.fail("%s is not above %s", name, mod.Name)
		return directory.NoOwner
	}

	high, isModule := node.UserData.(*module.Module)
	if !isModule || high.LowNet != mod.HighNet {
		a.fail("%s is not a high module of %s", name, mod.Name)
		return directory.NoOwner
	}

	return node.Index
}

func (a *argReader) owner(mod *module.Module) int {
	name := a.next("owner")
	if a.err != nil || strings.EqualFold(name, none) {
		return directory.NoOwner
	}

	return a.highNode(mod, name)
}

func (a *argReader) sharers(mod *module.Module) []int {
	names := a.rest()
	if a.err != nil {
		return nil
	}

	if len(names) == 0 {
		a.fail("missing sharers")
		return nil
	}

	if len(names) == 1 && strings.EqualFold(names[0], none) {
		return nil
	}

	nodes := make([]int, 0, len(names))
	for _, name := range names {
		nodes = append(nodes, a.highNode(mod, name))
	}

	return nodes
}
