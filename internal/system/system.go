package system

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// memoryPerWorker is the rough peak footprint of one document in flight:
// a few rasterized pages at print resolution plus their PNG encodings.
const memoryPerWorker = 512 << 20

const maxDefaultWorkers = 16

// InitResourceLimits raises the open file limit. Every worker keeps its own
// PDF handle open and the extractor writes many small files concurrently.
func InitResourceLimits(log zerolog.Logger) {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Warn().Err(err).Msg("could not read open file limit")
		return
	}

	want := raisedLimit(uint64(rLimit.Cur), uint64(rLimit.Max))
	if want == uint64(rLimit.Cur) {
		log.Debug().Uint64("limit", want).Msg("open file limit sufficient")
		return
	}
	rLimit.Cur = want

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Warn().Err(err).Msg("could not raise open file limit")
	} else {
		log.Debug().Uint64("limit", uint64(rLimit.Cur)).Msg("open file limit raised")
	}
}

const openFileTarget = 2048

// raisedLimit returns the soft open file limit to request: at least
// openFileTarget where the hard limit allows, and never below soft.
func raisedLimit(soft, hard uint64) uint64 {
	if soft >= openFileTarget {
		return soft
	}
	if hard < openFileTarget {
		return max(soft, hard)
	}
	return openFileTarget
}

// DefaultWorkers sizes the document pool from logical CPUs and available memory.
func DefaultWorkers() int {
	cpus, err := cpu.Counts(true)
	if err != nil || cpus < 1 {
		cpus = runtime.NumCPU()
	}
	return workersFor(cpus, availableMemory())
}

func availableMemory() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.Available
}

func workersFor(cpus int, available uint64) int {
	n := cpus
	if available > 0 {
		byMem := int(available / memoryPerWorker)
		if byMem < n {
			n = byMem
		}
	}
	if n > maxDefaultWorkers {
		n = maxDefaultWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// FindLatestPDF returns the most recently modified PDF in dir.
func FindLatestPDF(dir string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if !f.IsDir() && IsPDF(f.Name()) {
			info, err := f.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(latestTime) {
				latestTime = info.ModTime()
				latestFile = filepath.Join(dir, f.Name())
			}
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("no PDF files found in %s", dir)
	}

	return latestFile, nil
}

// FindPDFs lists the PDFs directly inside dir in name order.
func FindPDFs(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, f := range files {
		if !f.IsDir() && IsPDF(f.Name()) {
			out = append(out, filepath.Join(dir, f.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func IsPDF(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}
