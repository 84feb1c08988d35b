// Package monitoring turns a live loop and profiler into a small web server,
// so a running process can be inspected and profiled from the outside.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/loopscope/loopscope/profiling"
	"github.com/loopscope/loopscope/sched"
)

// Monitor exposes a loop and its profiler over HTTP. Start and stop requests
// are scheduled onto the loop thread; read requests serve the most recent
// finalized stats directly.
type Monitor struct {
	loop       *sched.Loop
	profiler   *profiling.Profiler
	portNumber int
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterLoop registers the loop to be monitored.
func (m *Monitor) RegisterLoop(l *sched.Loop) {
	m.loop = l
}

// RegisterProfiler registers the profiler controlled through the server.
func (m *Monitor) RegisterProfiler(p *profiling.Profiler) {
	m.profiler = p
}

// StartServer starts the monitor as a web server, returning the address it
// listens on.
func (m *Monitor) StartServer() string {
	r := mux.NewRouter()

	r.HandleFunc("/api/summary", m.summary)
	r.HandleFunc("/api/stats", m.stats)
	r.HandleFunc("/api/timeline", m.timeline)
	r.HandleFunc("/api/start", m.startSession)
	r.HandleFunc("/api/stop", m.stopSession)
	r.HandleFunc("/api/state", m.state)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.HandleFunc("/api/loop", m.inspectLoop)
	http.Handle("/", r)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	addr := fmt.Sprintf(
		"http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring loop with %s\n", addr)

	go func() {
		err = http.Serve(listener, nil)
		dieOnErr(err)
	}()

	return addr
}

func (m *Monitor) summary(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "{\"summary\":%s}", strconv.Quote(m.profiler.Summary()))
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	bytes, err := json.Marshal(m.profiler.Stats())
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) timeline(w http.ResponseWriter, _ *http.Request) {
	bytes, err := json.Marshal(m.profiler.Stats().Timeline)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

// startSession schedules the profiler start onto the loop thread so the
// spawn-primitive swap never races a running callback.
func (m *Monitor) startSession(w http.ResponseWriter, _ *http.Request) {
	m.loop.Schedule("monitor-start", 0, m.profiler.Start)
	w.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) stopSession(w http.ResponseWriter, _ *http.Request) {
	m.loop.Schedule("monitor-stop", 0, m.profiler.Stop)
	w.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) state(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "{\"state\":%s}", strconv.Quote(m.profiler.State().String()))
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	bytes, err := json.Marshal(prof)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) inspectLoop(w http.ResponseWriter, _ *http.Request) {
	serializer := goseth.NewSerializer()
	serializer.SetRoot(m.loop)
	serializer.SetMaxDepth(2)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
