package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/memsim/datarecording"
	"github.com/sarchlab/memsim/mem/config"
	"github.com/sarchlab/memsim/mem/system"
	"github.com/sarchlab/memsim/mem/trace"
	"github.com/sarchlab/memsim/monitoring"
	"github.com/sarchlab/memsim/sim/hooking"
	"github.com/sarchlab/memsim/sim/timing"
)

var errChecksFailed = errors.New("checks failed")

type runOptions struct {
	configPath   string
	commandsPath string
	traceDB      string
	reportPath   string
	monitorPort  int
	openMonitor  bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a command script on a memory system",
	Long: `Build the memory system, apply the SetBlock, SetOwner, SetSharers, ` +
		`Access, and Flush commands of the script, simulate until every ` +
		`access finishes, and evaluate the Check commands. The command ` +
		`fails if any check fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		runOpts.configPath = configPath

		failed, err := runSimulation(runOpts, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		if failed > 0 {
			return fmt.Errorf("%d %w", failed, errChecksFailed)
		}

		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runOpts.commandsPath, "commands", "",
		"Command script to replay")
	runCmd.Flags().StringVar(&runOpts.traceDB, "trace-db", "",
		"Record accesses into a SQLite file (without suffix) or a "+
			"clickhouse:// DSN ($"+envTraceDB+")")
	runCmd.Flags().StringVar(&runOpts.reportPath, "report", "",
		"Write the statistics report to a file instead of the output")
	runCmd.Flags().IntVar(&runOpts.monitorPort, "monitor-port", -1,
		"Serve the monitor on a port; 0 picks a random port ($"+
			envMonitorPort+")")
	runCmd.Flags().BoolVar(&runOpts.openMonitor, "open-monitor", false,
		"Open the monitor in a browser")

	_ = runCmd.MarkFlagRequired("commands")

	rootCmd.AddCommand(runCmd)
}

// runSimulation replays a command script and writes the check results and
// the report to out. It returns the number of failed checks.
func runSimulation(opts runOptions, out io.Writer) (int, error) {
	sys, err := buildSystem(opts.configPath)
	if err != nil {
		return 0, err
	}

	cmds, err := readScript(opts.commandsPath)
	if err != nil {
		return 0, err
	}

	steps := hooking.NewStepCountTracer(nil)
	sys.AcceptModuleHook(steps)

	attachLoggers(sys)

	finish, err := attachRecorder(sys, opts)
	if err != nil {
		return 0, err
	}

	if opts.monitorPort >= 0 || opts.openMonitor {
		stop := startMonitor(sys, cmds, opts)
		defer stop()
	}

	results, err := sys.RunScript(cmds)
	if err != nil {
		return 0, err
	}

	finish()

	failed := printResults(out, results)

	if err := writeReport(sys.Report(steps), opts.reportPath, out); err != nil {
		return failed, err
	}

	logrus.Infof("simulated %d cycles, %d of %d checks passed",
		sys.Sim.Cycle(), len(results)-failed, len(results))

	return failed, nil
}

func buildSystem(path string) (*system.System, error) {
	if path == "" {
		return nil, errors.New("no configuration given, use --config or $" +
			envConfig)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	return system.Build(cfg)
}

func readScript(path string) ([]system.Command, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening commands: %w", err)
	}
	defer f.Close()

	cmds, err := system.ParseScript(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cmds, nil
}

// attachLoggers prints protocol activity at debug level and every event at
// trace level.
func attachLoggers(sys *system.System) {
	logger := logrus.StandardLogger()

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		debug := trace.NewDebugTracer(logger, sys.Sim)
		sys.AcceptModuleHook(debug)
		sys.AcceptNetworkHook(debug)
	}

	if logger.IsLevelEnabled(logrus.TraceLevel) {
		sys.Timing.AcceptHook(timing.NewEventLogger(logger))
	}
}

// attachRecorder stores tasks and messages when a trace database is
// requested. The returned function finishes the recording.
func attachRecorder(sys *system.System, opts runOptions) (func(), error) {
	if opts.traceDB == "" {
		return func() {}, nil
	}

	recorder, err := datarecording.Open(opts.traceDB)
	if err != nil {
		return nil, err
	}

	exec := datarecording.NewExecRecorder(recorder)
	exec.Start()
	exec.Set("Config", opts.configPath)
	exec.Set("Commands", opts.commandsPath)

	tracer := trace.NewDBTracer(sys.Sim, recorder)
	sys.AcceptModuleHook(tracer)
	sys.AcceptNetworkHook(trace.NewMsgRecorder(recorder, sys.Sim))

	return func() {
		tracer.Terminate()
		exec.Set("Cycles", sys.Sim.Cycle())
		exec.End()
	}, nil
}

func startMonitor(
	sys *system.System,
	cmds []system.Command,
	opts runOptions,
) (stop func()) {
	port := opts.monitorPort
	if port < 0 {
		port = 0
	}

	m := monitoring.NewMonitor().WithPortNumber(port)
	m.RegisterEngine(sys.Timing)

	for _, mod := range sys.Modules() {
		m.RegisterModule(mod)
	}

	for _, n := range sys.Networks() {
		m.RegisterNetwork(n)
	}

	total := uint64(0)
	for _, cmd := range cmds {
		if cmd.Name == system.CmdAccess {
			total++
		}
	}

	bar := m.CreateProgressBar("accesses", total)
	sys.AcceptModuleHook(monitoring.NewProgressHook(bar))

	url := m.StartServer()
	if opts.openMonitor {
		if err := browser.OpenURL(url); err != nil {
			logrus.Warnf("cannot open the monitor: %v", err)
		}
	}

	return func() {
		m.CompleteProgressBar(bar)

		if err := m.StopServer(); err != nil {
			logrus.Warnf("stopping the monitor: %v", err)
		}
	}
}

func printResults(out io.Writer, results []system.CheckResult) int {
	failed := 0

	for _, r := range results {
		if r.Passed {
			fmt.Fprintf(out, "PASS %s\n", r.Command)
			continue
		}

		failed++

		fmt.Fprintf(out, "FAIL %s: %s\n", r.Command, r.Message)
	}

	return failed
}

func writeReport(r system.Report, path string, out io.Writer) error {
	if path == "" {
		return r.WriteYAML(out)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}

	if err := r.WriteYAML(f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
