package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/datarecording"
	"github.com/sarchlab/memsim/mem/trace"
)

var _ = Describe("run", func() {
	var out bytes.Buffer

	BeforeEach(func() {
		out.Reset()
	})

	It("should pass the checks of a script", func() {
		failed, err := runSimulation(runOptions{
			configPath:   "testdata/two_level.yaml",
			commandsPath: "testdata/downgrade.txt",
			monitorPort:  -1,
		}, &out)

		Expect(err).NotTo(HaveOccurred())
		Expect(failed).To(BeZero())
		Expect(out.String()).To(ContainSubstring("PASS line 9: CheckBlock l1-0 0 0 0x1000 O"))
		Expect(out.String()).To(ContainSubstring("name: l1-1"))
		Expect(out.String()).To(ContainSubstring("steps:"))
	})

	It("should count failed checks", func() {
		failed, err := runSimulation(runOptions{
			configPath:   "testdata/two_level.yaml",
			commandsPath: "testdata/failing.txt",
			monitorPort:  -1,
		}, &out)

		Expect(err).NotTo(HaveOccurred())
		Expect(failed).To(Equal(1))
		Expect(out.String()).To(ContainSubstring("FAIL line 3"))
	})

	It("should write the report to a file", func() {
		report := filepath.Join(GinkgoT().TempDir(), "report.yaml")

		_, err := runSimulation(runOptions{
			configPath:   "testdata/two_level.yaml",
			commandsPath: "testdata/downgrade.txt",
			reportPath:   report,
			monitorPort:  -1,
		}, &out)
		Expect(err).NotTo(HaveOccurred())

		data, err := os.ReadFile(report)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("kind: MainMemory"))
		Expect(out.String()).NotTo(ContainSubstring("kind: MainMemory"))
	})

	It("should record tasks into a trace database", func() {
		db := filepath.Join(GinkgoT().TempDir(), "trace")

		_, err := runSimulation(runOptions{
			configPath:   "testdata/two_level.yaml",
			commandsPath: "testdata/downgrade.txt",
			traceDB:      db,
			monitorPort:  -1,
		}, &out)
		Expect(err).NotTo(HaveOccurred())

		reader, err := datarecording.NewReader(db + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		reader.MapTable(trace.TaskTable, trace.TaskEntry{})
		reader.MapTable(trace.MsgTable, trace.MsgEntry{})

		_, tasks, err := reader.Query(context.Background(), trace.TaskTable,
			datarecording.QueryParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(tasks).NotTo(BeZero())

		_, msgs, err := reader.Query(context.Background(), trace.MsgTable,
			datarecording.QueryParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).NotTo(BeZero())
	})

	It("should report a missing configuration", func() {
		_, err := runSimulation(runOptions{
			commandsPath: "testdata/downgrade.txt",
			monitorPort:  -1,
		}, &out)

		Expect(err).To(MatchError(ContainSubstring("no configuration")))
	})

	It("should report a missing script", func() {
		_, err := runSimulation(runOptions{
			configPath:   "testdata/two_level.yaml",
			commandsPath: "testdata/none.txt",
			monitorPort:  -1,
		}, &out)

		Expect(err).To(MatchError(ContainSubstring("opening commands")))
	})
})

var _ = Describe("commands", func() {
	execute := func(args ...string) (string, error) {
		var out bytes.Buffer

		for _, name := range []string{"config", "log-level"} {
			f := rootCmd.PersistentFlags().Lookup(name)
			Expect(f.Value.Set(f.DefValue)).To(Succeed())
			f.Changed = false
		}

		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(args)

		err := rootCmd.Execute()

		return out.String(), err
	}

	It("should validate a configuration", func() {
		out, err := execute("check", "--config", "testdata/two_level.yaml")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("3 modules, 1 networks"))
	})

	It("should read the configuration from the environment", func() {
		GinkgoT().Setenv(envConfig, "testdata/two_level.yaml")

		out, err := execute("check")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("two_level.yaml: 3 modules"))
	})

	It("should print the version", func() {
		out, err := execute("version")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("memsim dev\n"))
	})

	It("should reject an invalid log level", func() {
		_, err := execute("version", "--log-level", "loud")

		Expect(err).To(HaveOccurred())
	})
})
