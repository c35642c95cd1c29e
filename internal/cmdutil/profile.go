package cmdutil

import (
	"fmt"
	"os"
	"runtime/pprof"
	"runtime/trace"
)

// profileCleanup stops a started profile and closes its backing file,
// grounded on the teacher's own createTraceFile/createHeapFile/
// createCpuprofileFile trio in cmd/root.go.
type profileCleanup func() error

func createTraceFile(path string) (profileCleanup, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating trace file %s: %w", path, err)
	}
	if err := trace.Start(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("starting trace: %w", err)
	}
	return func() error {
		trace.Stop()
		return f.Close()
	}, nil
}

func createHeapFile(path string) (profileCleanup, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating heap profile file %s: %w", path, err)
	}
	return func() error {
		defer f.Close()
		return pprof.WriteHeapProfile(f)
	}, nil
}

func createCPUProfileFile(path string) (profileCleanup, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating cpu profile file %s: %w", path, err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("starting cpu profile: %w", err)
	}
	return func() error {
		pprof.StopCPUProfile()
		return f.Close()
	}, nil
}

// StartProfiling honors the --heap/--cpuprofile/--trace flags, registering
// each profile's cleanup so Cleanup stops it once the command finishes.
func (h *Helper) StartProfiling() error {
	if h.traceFile != "" {
		cleanup, err := createTraceFile(h.traceFile)
		if err != nil {
			return err
		}
		h.RegisterCleanup(cleanup)
	}
	if h.heapFile != "" {
		cleanup, err := createHeapFile(h.heapFile)
		if err != nil {
			return err
		}
		h.RegisterCleanup(cleanup)
	}
	if h.cpuProfileFile != "" {
		cleanup, err := createCPUProfileFile(h.cpuProfileFile)
		if err != nil {
			return err
		}
		h.RegisterCleanup(cleanup)
	}
	return nil
}
