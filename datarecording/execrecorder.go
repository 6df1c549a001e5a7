package datarecording

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// ExecTableName is the table that describes the run that produced a
// recording.
const ExecTableName = "exec_info"

// ExecInfo is one property of a run.
type ExecInfo struct {
	Property string
	Value    string
}

const execTimeFormat = "2006-01-02 15:04:05.000000000"

// ExecRecorder writes the command line, working directory, and start and
// end times of a run.
type ExecRecorder struct {
	recorder DataRecorder
	entries  []ExecInfo
}

// NewExecRecorder creates the exec table in recorder.
func NewExecRecorder(recorder DataRecorder) *ExecRecorder {
	recorder.CreateTable(ExecTableName, ExecInfo{})

	return &ExecRecorder{recorder: recorder}
}

// Start captures the properties known when the run begins.
func (e *ExecRecorder) Start() {
	e.entries = append(e.entries,
		ExecInfo{"Start Time", time.Now().Format(execTimeFormat)},
		ExecInfo{"Command", strings.Join(os.Args, " ")},
	)

	if wd, err := os.Getwd(); err == nil {
		e.entries = append(e.entries, ExecInfo{"Working Directory", wd})
	}
}

// Set adds a property of the run.
func (e *ExecRecorder) Set(property string, value any) {
	e.entries = append(e.entries, ExecInfo{property, fmt.Sprint(value)})
}

// End writes the properties along with the end time and flushes.
func (e *ExecRecorder) End() {
	for _, entry := range e.entries {
		e.recorder.InsertData(ExecTableName, entry)
	}

	e.recorder.InsertData(ExecTableName,
		ExecInfo{"End Time", time.Now().Format(execTimeFormat)})

	e.entries = nil

	e.recorder.Flush()
}

// Open creates a recorder from a target. A target starting with
// "clickhouse://" selects a ClickHouse server; anything else is the path of
// a new SQLite file, without the ".sqlite3" suffix.
func Open(target string) (DataRecorder, error) {
	if strings.HasPrefix(target, "clickhouse://") {
		return NewClickHouseRecorder(target, 0)
	}

	return New(target), nil
}
