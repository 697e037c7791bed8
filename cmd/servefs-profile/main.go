// Command servefs-profile generates a synthetic file tree, serves it
// through the engine in a tight loop, and captures CPU, heap, fgprof,
// or execution-trace profiles of the run.
//
// Usage:
//
//	servefs-profile [--mode serve|lookup|readdir] [--backend local|pack]
//	                [--files n] [--file-size n] [--dirs n]
//	                [--duration d | --iterations n]
//	                [--accept-encoding codings] [--range spec]
//	                [--cpuprofile f] [--memprofile f] [--fgprofile f]
//	                [--trace f] [--pprof-addr addr] [--seed n]
package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/felixge/fgprof"
	"github.com/spf13/pflag"

	"github.com/silvermint/servefs"
	"github.com/silvermint/servefs/fsys"
	"github.com/silvermint/servefs/pack"
)

type config struct {
	mode           string
	backend        string
	files          int
	fileSize       int
	dirCount       int
	duration       time.Duration
	iterations     int
	acceptEncoding string
	rangeHeader    string
	cpuProfile     string
	memProfile     string
	fgProfile      string
	traceFile      string
	pprofAddr      string
	seed           int64
}

// Sink variables prevent the compiler from eliding the measured work.
var (
	sinkStatus int
	sinkBytes  int64
	sinkEntry  *fsys.Entry
	sinkCount  int
)

func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // profiling server runs without timeouts
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	dir, err := os.MkdirTemp("", "servefs-profile-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	paths, err := makeFiles(dir, cfg)
	if err != nil {
		log.Fatal(err) //nolint:gocritic // cleanup is best-effort
	}

	backend, err := newBackend(dir, cfg)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.fgProfile != "" {
		fgFile, fgErr := os.Create(cfg.fgProfile)
		if fgErr != nil {
			log.Fatal(fgErr)
		}
		stop := fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stop(); err != nil {
				log.Printf("fgprof stop error: %v", err)
			}
			_ = fgFile.Close()
		}()
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := run(cfg, backend, paths)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s backend=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		cfg.mode,
		cfg.backend,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
	)
}

func parseFlags() config {
	var cfg config
	pflag.StringVar(&cfg.mode, "mode", "serve", "workload: serve, lookup, or readdir")
	pflag.StringVar(&cfg.backend, "backend", "pack", "backend: local or pack")
	pflag.IntVar(&cfg.files, "files", 1000, "synthetic file count")
	pflag.IntVar(&cfg.fileSize, "file-size", 4096, "bytes per synthetic file")
	pflag.IntVar(&cfg.dirCount, "dirs", 10, "directories to spread files across")
	pflag.DurationVar(&cfg.duration, "duration", 10*time.Second, "run length when --iterations is zero")
	pflag.IntVar(&cfg.iterations, "iterations", 0, "fixed op count (0 = run for --duration)")
	pflag.StringVar(&cfg.acceptEncoding, "accept-encoding", "", "Accept-Encoding header sent with each request")
	pflag.StringVar(&cfg.rangeHeader, "range", "", "Range header sent with each request")
	pflag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	pflag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	pflag.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof wall-clock profile to file")
	pflag.StringVar(&cfg.traceFile, "trace", "", "write execution trace to file")
	pflag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "serve net/http/pprof on this address")
	pflag.Int64Var(&cfg.seed, "seed", 1, "random seed for reproducible runs")
	pflag.Parse()
	if cfg.dirCount < 1 {
		cfg.dirCount = 1
	}
	return cfg
}

// makeFiles writes cfg.files files of cfg.fileSize bytes spread across
// cfg.dirCount directories and returns their request paths.
func makeFiles(dir string, cfg config) ([]string, error) {
	rng := rand.New(rand.NewSource(cfg.seed)) //nolint:gosec // reproducible synthetic data
	paths := make([]string, 0, cfg.files)
	buf := make([]byte, cfg.fileSize)
	for i := range cfg.files {
		rng.Read(buf)
		name := fmt.Sprintf("d%03d/f%06d.bin", i%cfg.dirCount, i)
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, name)
	}
	return paths, nil
}

func newBackend(dir string, cfg config) (fsys.FileSystem, error) {
	switch cfg.backend {
	case "local":
		return fsys.NewLocal(dir)
	case "pack":
		var buf bytes.Buffer
		if err := pack.Create(context.Background(), dir, &buf); err != nil {
			return nil, err
		}
		pkg, err := pack.Load(buf.Bytes())
		if err != nil {
			return nil, err
		}
		return pack.NewFS(pkg), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.backend)
	}
}

type runStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

func run(cfg config, backend fsys.FileSystem, paths []string) (runStats, error) {
	start := time.Now()
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}

	rng := rand.New(rand.NewSource(cfg.seed)) //nolint:gosec // reproducible access pattern

	switch cfg.mode {
	case "serve":
		server := servefs.New(backend)
		hdr := make(http.Header)
		if cfg.acceptEncoding != "" {
			hdr.Set("Accept-Encoding", cfg.acceptEncoding)
		}
		if cfg.rangeHeader != "" {
			hdr.Set("Range", cfg.rangeHeader)
		}
		ctx := context.Background()
		for shouldContinue() {
			path := "/" + paths[rng.Intn(len(paths))]
			resp, err := server.Serve(ctx, &servefs.Request{Method: http.MethodGet, Path: path, Header: hdr})
			if err != nil {
				return runStats{}, err
			}
			if resp.Body != nil {
				if err := resp.Body.Close(); err != nil {
					return runStats{}, err
				}
			}
			sinkStatus = resp.Status
			sinkBytes = resp.ContentLength
			byteCount += resp.ContentLength
			ops++
		}

	case "lookup":
		for shouldContinue() {
			path := paths[rng.Intn(len(paths))]
			entry, err := backend.Lookup(path)
			if err != nil {
				return runStats{}, err
			}
			sinkEntry = entry
			byteCount += entry.Size
			ops++
		}

	case "readdir":
		for shouldContinue() {
			name := fmt.Sprintf("d%03d", rng.Intn(cfg.dirCount))
			entries, err := backend.ReadDir(name)
			if err != nil {
				return runStats{}, err
			}
			sinkCount = len(entries)
			ops++
		}

	default:
		return runStats{}, fmt.Errorf("unknown mode %q", cfg.mode)
	}

	return runStats{ops: ops, bytes: byteCount, elapsed: time.Since(start)}, nil
}
