// Package monitoring turns a running simulation into an HTTP server that
// can pause and resume the engine and inspect modules, networks, and the
// resources of the process.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"reflect"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/memsim/mem/module"
	"github.com/sarchlab/memsim/monitoring/web"
	"github.com/sarchlab/memsim/noc/network"
	"github.com/sarchlab/memsim/sim/id"
	"github.com/sarchlab/memsim/sim/timing"
)

// Engine is the part of the event engine the monitor drives.
type Engine interface {
	Pause()
	Continue()
	Run() error
	Now() timing.VTimeInSec
}

// Monitor serves the state of a simulation over HTTP.
type Monitor struct {
	engine     Engine
	modules    []*module.Module
	networks   []*network.Network
	portNumber int
	listener   net.Listener

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers the engine that runs the simulation.
func (m *Monitor) RegisterEngine(e Engine) {
	m.engine = e
}

// RegisterModule registers a module to be inspected.
func (m *Monitor) RegisterModule(mod *module.Module) {
	m.modules = append(m.modules, mod)
}

// RegisterNetwork registers a network whose buffers are watched.
func (m *Monitor) RegisterNetwork(n *network.Network) {
	m.networks = append(m.networks, n)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        id.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			bars = append(bars, b)
		}
	}

	m.progressBars = bars
}

// Router returns the routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/run", m.run)
	r.HandleFunc("/api/modules", m.listModules)
	r.HandleFunc("/api/module/{name}", m.moduleDetails)
	r.HandleFunc("/api/stats/{name}", m.moduleStats)
	r.HandleFunc("/api/field/{json}", m.fieldValue)
	r.HandleFunc("/api/value/{name}/{path}", m.walkedValue)
	r.HandleFunc("/api/hangdetector/buffers", m.hangDetectorBuffers)
	r.HandleFunc("/api/networks", m.listNetworks)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts serving in the background and returns the URL of the
// monitor.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber >= 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.listener = listener

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	go func() {
		err := http.Serve(listener, m.Router())
		if !errors.Is(err, net.ErrClosed) {
			dieOnErr(err)
		}
	}()

	return url
}

// StopServer closes the listener opened by StartServer.
func (m *Monitor) StopServer() error {
	if m.listener == nil {
		return nil
	}

	return m.listener.Close()
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Pause()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Continue()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "{\"now\":%.10f}", float64(m.engine.Now()))
}

func (m *Monitor) run(_ http.ResponseWriter, _ *http.Request) {
	go func() {
		err := m.engine.Run()
		if err != nil {
			panic(err)
		}
	}()
}

func (m *Monitor) listModules(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, len(m.modules))
	for i, mod := range m.modules {
		names[i] = mod.Name
	}

	writeJSON(w, names)
}

func (m *Monitor) moduleDetails(w http.ResponseWriter, r *http.Request) {
	mod := m.findModuleOr404(w, mux.Vars(r)["name"])
	if mod == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(mod)
	serializer.SetMaxDepth(1)

	dieOnErr(serializer.Serialize(w))
}

type statsRsp struct {
	Stats     module.Stats `json:"stats"`
	HitRatio  float64      `json:"hit_ratio"`
	InFlight  int          `json:"in_flight"`
	Coalesced int          `json:"coalesced"`
}

func (m *Monitor) moduleStats(w http.ResponseWriter, r *http.Request) {
	mod := m.findModuleOr404(w, mux.Vars(r)["name"])
	if mod == nil {
		return
	}

	writeJSON(w, statsRsp{
		Stats:     mod.Stats,
		HitRatio:  mod.Stats.HitRatio(),
		InFlight:  mod.NumInFlight(),
		Coalesced: mod.NumCoalesced(),
	})
}

type fieldReq struct {
	ModuleName string `json:"module_name,omitempty"`
	FieldName  string `json:"field_name,omitempty"`
}

func (m *Monitor) fieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	mod := m.findModuleOr404(w, req.ModuleName)
	if mod == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(mod)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	dieOnErr(err)

	dieOnErr(serializer.Serialize(w))
}

func (m *Monitor) walkedValue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	mod := m.findModuleOr404(w, vars["name"])
	if mod == nil {
		return
	}

	elem, err := m.walkFields(mod, vars["path"])
	if err != nil || !elem.IsValid() {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: cannot resolve %s", vars["path"])

		return
	}

	fmt.Fprint(w, elem)
}

// bufferRsp is the output buffer of one network node.
type bufferRsp struct {
	Buffer string `json:"buffer"`
	Level  int    `json:"level"`
	Cap    int    `json:"cap"`
}

func (m *Monitor) hangDetectorBuffers(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := m.buffersParseParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	writeJSON(w, m.sortAndSelectBuffers(sortMethod, limit, offset))
}

func (*Monitor) buffersParseParams(
	r *http.Request,
) (sortMethod string, limit, offset int, err error) {
	query := r.URL.Query()

	sortMethod = query.Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}

	if sortMethod != "level" && sortMethod != "percent" {
		return "", 0, 0, fmt.Errorf(
			"invalid sort method %s, allowed values are `level` and `percent`",
			sortMethod)
	}

	if s := query.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			return sortMethod, 0, 0, err
		}
	}

	if s := query.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil {
			return sortMethod, limit, 0, err
		}
	}

	return sortMethod, limit, offset, nil
}

func (m *Monitor) buffers() []bufferRsp {
	var buffers []bufferRsp

	for _, n := range m.networks {
		if n.BufferSize() == 0 {
			continue
		}

		for _, node := range n.Nodes() {
			buffers = append(buffers, bufferRsp{
				Buffer: n.Name() + "." + node.Name,
				Level:  node.BufferOccupancy(),
				Cap:    n.BufferSize(),
			})
		}
	}

	return buffers
}

func bufferPercent(b bufferRsp) float64 {
	return float64(b.Level) / float64(b.Cap)
}

// sortAndSelectBuffers returns the fullest buffers first. A limit of zero
// selects all the buffers after offset.
func (m *Monitor) sortAndSelectBuffers(
	sortMethod string,
	limit, offset int,
) []bufferRsp {
	buffers := m.buffers()

	sort.SliceStable(buffers, func(i, j int) bool {
		levelI, levelJ := buffers[i].Level, buffers[j].Level
		percentI, percentJ := bufferPercent(buffers[i]), bufferPercent(buffers[j])

		if sortMethod == "level" {
			if levelI != levelJ {
				return levelI > levelJ
			}

			return percentI > percentJ
		}

		if percentI != percentJ {
			return percentI > percentJ
		}

		return levelI > levelJ
	})

	if offset > len(buffers) {
		offset = len(buffers)
	}

	end := len(buffers)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return buffers[offset:end]
}

type networkRsp struct {
	Name  string        `json:"name"`
	Stats network.Stats `json:"stats"`
	Nodes []string      `json:"nodes"`
}

func (m *Monitor) listNetworks(w http.ResponseWriter, _ *http.Request) {
	rsp := make([]networkRsp, 0, len(m.networks))

	for _, n := range m.networks {
		entry := networkRsp{Name: n.Name(), Stats: n.Stats()}
		for _, node := range n.Nodes() {
			entry.Nodes = append(entry.Nodes, node.Name)
		}

		rsp = append(rsp, entry)
	}

	writeJSON(w, rsp)
}

type fieldFormatError struct {
	field string
}

func (e fieldFormatError) Error() string {
	return "cannot walk into field " + e.field
}

// walkFields follows a dot-separated path of struct fields and slice
// indices from v.
func (m *Monitor) walkFields(v any, fields string) (reflect.Value, error) {
	elem := reflect.ValueOf(v)
	fieldNames := strings.Split(fields, ".")

	for len(fieldNames) > 0 {
		switch elem.Kind() {
		case reflect.Ptr, reflect.Interface:
			elem = elem.Elem()
		case reflect.Struct:
			elem = elem.FieldByName(fieldNames[0])
			fieldNames = fieldNames[1:]
		case reflect.Slice:
			index, err := strconv.Atoi(fieldNames[0])
			if err != nil || index < 0 || index >= elem.Len() {
				return elem, fieldFormatError{fieldNames[0]}
			}

			elem = elem.Index(index)
			fieldNames = fieldNames[1:]
		default:
			return elem, fieldFormatError{fieldNames[0]}
		}
	}

	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}

	return elem, nil
}

func (m *Monitor) findModuleOr404(
	w http.ResponseWriter,
	name string,
) *module.Module {
	for _, mod := range m.modules {
		if mod.Name == name {
			return mod
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Module not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	writeJSON(w, m.progressBars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memory, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
