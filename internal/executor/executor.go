package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/polykit-dev/polykit/internal/adapter"
	"github.com/polykit-dev/polykit/internal/fingerprint"
	"github.com/polykit-dev/polykit/internal/localcache"
	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/process"
	"github.com/polykit-dev/polykit/internal/remotecache"
	"github.com/polykit-dev/polykit/internal/turbopath"
	"github.com/polykit-dev/polykit/internal/util"
)

// Options configures a single executor Run.
type Options struct {
	Workspace       *manifest.Workspace
	Packages        map[string]*manifest.Package
	Selected        []string
	Task            string
	Parallelism     int
	ContinueOnError bool
	Fingerprinter   *fingerprint.Fingerprinter
	Local           *localcache.Store
	Remote          *remotecache.Client // nil disables remote caching
	Manager         *process.Manager
	Logger          hclog.Logger
	Stdout          *os.File
	NoColor         bool
	ForceColor      bool
}

// VertexResult is the outcome recorded for a single (package, task) vertex.
type VertexResult struct {
	ID       string
	Status   util.VertexStatus
	ExitCode int
	Duration time.Duration
	Err      error
}

// Result is the aggregate outcome of a Run, in the shape the cmd layer
// needs to pick a process exit code (spec.md §4.7 "Exit codes").
type Result struct {
	Vertices map[string]*VertexResult
	Order    []string // every vertex id, sorted ascending
}

// ExitCode returns the process-level exit code for r: 0 if every vertex is
// Done or Cached, 1 if any Failed.
func (r *Result) ExitCode() int {
	for _, v := range r.Vertices {
		if v.Status == util.VertexFailed {
			return 1
		}
	}
	return 0
}

// outputLogDir is the directory, relative to a package directory, where a
// vertex's combined stdout/stderr log is captured. The log is always included in the
// packed artifact so a later cache hit can replay it.
const outputLogDir = ".polykit/logs"

// Run builds the execution DAG for opts.Task over opts.Selected and walks
// it with a bounded worker pool, per spec.md §4.7.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}

	graph, err := buildTaskGraph(opts.Packages, opts.Selected, opts.Task)
	if err != nil {
		return nil, err
	}
	if err := graph.validateAcyclic(); err != nil {
		return nil, err
	}

	e := &executor{
		opts:      opts,
		graph:     graph,
		remaining: make(map[string]int, len(graph.ids)),
		results:   make(map[string]*VertexResult, len(graph.ids)),
		colors:    newColorCache(opts.Stdout, opts.ForceColor, opts.NoColor),
		sinkMu:    &sync.Mutex{},
	}
	e.cond = sync.NewCond(&e.mu)

	for _, id := range graph.ids {
		e.remaining[id] = len(graph.deps[id])
		e.results[id] = &VertexResult{ID: id, Status: util.VertexPending}
	}
	for _, id := range graph.ids {
		if e.remaining[id] == 0 {
			e.ready = append(e.ready, id)
		}
	}
	sort.Strings(e.ready)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-runCtx.Done()
		e.triggerCancel()
	}()

	var wg sync.WaitGroup
	for i := 0; i < opts.Parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(runCtx)
		}()
	}
	wg.Wait()

	order := make([]string, len(graph.ids))
	copy(order, graph.ids)
	return &Result{Vertices: e.results, Order: order}, nil
}

// executor holds the mutable scheduling state for one Run.
type executor struct {
	opts  Options
	graph *taskGraph

	mu        sync.Mutex
	cond      *sync.Cond
	remaining map[string]int
	ready     []string
	results   map[string]*VertexResult
	done      int
	cancelled bool
	closeOnce sync.Once

	colors *colorCache
	sinkMu *sync.Mutex
}

// triggerCancel stops the process manager (killing in-flight children per
// spec.md §4.7 "SIGTERM then SIGKILL after a 5s grace") and prevents any
// further vertex from starting.
func (e *executor) triggerCancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
	e.cond.Broadcast()
	e.closeOnce.Do(func() {
		e.opts.Manager.Close()
	})
}

// worker pulls ready vertices in (package, task)-ascending order until the
// graph is exhausted, per spec.md §4.7's ordering and cancellation rules.
func (e *executor) worker(ctx context.Context) {
	for {
		e.mu.Lock()
		for len(e.ready) == 0 && e.done < len(e.graph.ids) {
			e.cond.Wait()
		}
		if e.done >= len(e.graph.ids) {
			e.mu.Unlock()
			return
		}
		id := e.ready[0]
		e.ready = e.ready[1:]
		cancelled := e.cancelled
		e.mu.Unlock()

		if cancelled {
			e.finish(id, &VertexResult{ID: id, Status: util.VertexSkipped})
			continue
		}
		if e.anyUpstreamBad(id) {
			e.finish(id, &VertexResult{ID: id, Status: util.VertexSkipped})
			continue
		}

		result := e.runVertex(ctx, id)
		e.finish(id, result)

		if result.Status == util.VertexFailed && !e.opts.ContinueOnError {
			e.triggerCancel()
		}
	}
}

// anyUpstreamBad reports whether any direct dependency of id failed or was
// skipped, in which case id's inputs are invalid and it must be skipped
// too, per spec.md §4.7 "descendants of a failed vertex are still Skipped".
func (e *executor) anyUpstreamBad(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dep := range e.graph.deps[id] {
		status := e.results[dep].Status
		if status == util.VertexFailed || status == util.VertexSkipped {
			return true
		}
	}
	return false
}

// finish records id's result and enqueues any dependent whose remaining
// predecessor count has just reached zero.
func (e *executor) finish(id string, result *VertexResult) {
	e.mu.Lock()
	e.results[id] = result
	e.done++
	for _, dependent := range e.graph.dependents[id] {
		e.remaining[dependent]--
		if e.remaining[dependent] == 0 {
			e.ready = append(e.ready, dependent)
		}
	}
	sort.Strings(e.ready)
	e.mu.Unlock()
	e.cond.Broadcast()
}

// runVertex executes spec.md §4.7's per-vertex pipeline: fingerprint, cache
// restore, spawn, pack.
func (e *executor) runVertex(ctx context.Context, id string) *VertexResult {
	pkgName, taskName := util.GetPackageTaskFromId(id)
	pkg := e.opts.Packages[pkgName]
	task := pkg.Tasks[taskName]

	key, err := e.opts.Fingerprinter.Fingerprint(pkgName, taskName)
	if err != nil {
		return &VertexResult{ID: id, Status: util.VertexFailed, Err: fmt.Errorf("fingerprinting %s: %w", id, err)}
	}

	if duration, ok := e.restoreFromCache(ctx, id, key); ok {
		return &VertexResult{ID: id, Status: util.VertexCached, Duration: duration}
	}

	logPath := pkg.Dir.UntypedJoin(outputLogDir, taskName+".log")
	if err := logPath.Dir().MkdirAll(0755); err != nil {
		return &VertexResult{ID: id, Status: util.VertexFailed, Err: err}
	}
	logFile, err := logPath.Create()
	if err != nil {
		return &VertexResult{ID: id, Status: util.VertexFailed, Err: err}
	}
	defer util.CloseAndIgnoreError(logFile)

	prefix := e.colors.prefix(id)
	sink := &linePrefixWriter{dst: e.opts.Stdout, mirror: logFile, prefix: prefix, mu: e.sinkMu}

	cmd := exec.Command("sh", "-c", task.Command)
	cmd.Dir = pkg.Dir.ToString()
	cmd.Stdout = sink
	cmd.Stderr = sink

	start := time.Now()
	execErr := e.opts.Manager.Exec(cmd)
	duration := time.Since(start)
	sink.Flush()

	if execErr != nil {
		exitCode := 1
		var childExit *process.ChildExit
		if errors.As(execErr, &childExit) {
			exitCode = childExit.ExitCode
		}
		return &VertexResult{ID: id, Status: util.VertexFailed, ExitCode: exitCode, Duration: duration, Err: execErr}
	}

	outputs := task.Outputs
	if len(outputs) == 0 {
		if defaults, err := defaultOutputPaths(pkg); err == nil {
			outputs = defaults
		}
	}
	files, err := collectOutputs(e.opts.Workspace.Root, pkg, outputs, logPath)
	if err != nil {
		e.opts.Logger.Warn("collecting outputs", "vertex", id, "error", err)
		return &VertexResult{ID: id, Status: util.VertexDone, Duration: duration}
	}

	if err := e.opts.Local.Put(key, e.opts.Workspace.Root, files, duration); err != nil {
		e.opts.Logger.Warn("local cache store failed", "vertex", id, "error", err)
	} else if e.opts.Remote != nil {
		e.uploadToRemote(ctx, id, key)
	}

	return &VertexResult{ID: id, Status: util.VertexDone, Duration: duration}
}

// restoreFromCache attempts a local hit first, then a HEAD probe followed by
// a remote hit staged into the local store, per spec.md §4.5's lookup
// protocol (local, then HEAD, then GET) and §4.7 step 2.
func (e *executor) restoreFromCache(ctx context.Context, id, key string) (time.Duration, bool) {
	if files, duration, ok, err := e.opts.Local.Fetch(key, e.opts.Workspace.Root); err == nil && ok {
		e.replayLog(id, files)
		return duration, true
	}

	if e.opts.Remote == nil {
		return 0, false
	}
	exists, err := e.opts.Remote.Exists(ctx, key)
	if err != nil {
		e.opts.Logger.Warn("remote cache probe failed", "vertex", id, "error", err)
		return 0, false
	}
	if !exists {
		return 0, false
	}
	payload, ok, err := e.opts.Remote.Fetch(ctx, key)
	if err != nil {
		e.opts.Logger.Warn("remote cache fetch failed", "vertex", id, "error", err)
		return 0, false
	}
	if !ok {
		return 0, false
	}
	if err := e.opts.Local.WriteRawArtifact(key, payload, 0); err != nil {
		e.opts.Logger.Warn("staging remote artifact failed", "vertex", id, "error", err)
		return 0, false
	}
	files, duration, ok, err := e.opts.Local.Fetch(key, e.opts.Workspace.Root)
	if err != nil || !ok {
		return 0, false
	}
	e.replayLog(id, files)
	return duration, true
}

// replayLog emits a cache hit's recorded stdout/stderr, per spec.md §4.7
// step 2 "emit its recorded stdout/stderr".
func (e *executor) replayLog(id string, files []turbopath.AnchoredSystemPath) {
	prefix := e.colors.prefix(id)
	for _, f := range files {
		if !strings.HasSuffix(f.ToString(), ".log") {
			continue
		}
		raw, err := e.opts.Workspace.Root.UntypedJoin(f.ToString()).ReadFile()
		if err != nil {
			continue
		}
		sink := &linePrefixWriter{dst: e.opts.Stdout, prefix: prefix, mu: e.sinkMu}
		_, _ = sink.Write(raw)
		sink.Flush()
	}
}

// uploadToRemote pushes a freshly-packed local artifact to the remote
// cache. Failures are logged, never fatal, per spec.md §8 "remote-cache
// errors are never fatal to a run".
func (e *executor) uploadToRemote(ctx context.Context, id, key string) {
	payload, err := e.opts.Local.ReadRawArtifact(key)
	if err != nil {
		e.opts.Logger.Warn("reading artifact for remote upload", "vertex", id, "error", err)
		return
	}
	if err := e.opts.Remote.Store(ctx, key, payload); err != nil {
		e.opts.Logger.Warn("remote cache store failed", "vertex", id, "error", err)
	}
}

func defaultOutputPaths(pkg *manifest.Package) ([]string, error) {
	return adapter.DefaultOutputPaths(pkg)
}

// linePrefixWriter prefixes every line written to it with a vertex label
// before forwarding to dst, and mirrors the raw bytes to mirror (the
// per-vertex log file), per spec.md §4.7 step 3 "line-buffered ... each
// line prefixed".
type linePrefixWriter struct {
	dst    *os.File
	mirror *os.File
	prefix string
	buf    []byte
	// mu is shared across every vertex's sink writing to dst, so whole
	// lines from concurrent workers are never interleaved mid-line.
	mu *sync.Mutex
}

func (w *linePrefixWriter) Write(p []byte) (int, error) {
	if w.mirror != nil {
		_, _ = w.mirror.Write(p)
	}
	w.buf = append(w.buf, p...)
	for {
		idx := indexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := w.buf[:idx+1]
		w.mu.Lock()
		fmt.Fprint(w.dst, w.prefix, string(line))
		w.mu.Unlock()
		w.buf = w.buf[idx+1:]
	}
	return len(p), nil
}

func (w *linePrefixWriter) Flush() {
	if len(w.buf) > 0 {
		w.mu.Lock()
		fmt.Fprint(w.dst, w.prefix, string(w.buf), "\n")
		w.mu.Unlock()
		w.buf = nil
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
