// gitfilterd is a Git long-running filter process (git config
// filter.<driver>.process) that stores clean'd content in a
// content-addressable blob store and resolves it back on smudge,
// Git-LFS style.
//
// Usage:
//
//	gitfilterd [-config path] [-store dir] [-algorithm sha256] [-workers n] [-delay-glob pattern]
//
// Git drives gitfilterd over stdin/stdout for the lifetime of one
// checkout operation; it is not meant to be run interactively.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/nseba/gitfilterd/pkg/filter"
	"github.com/nseba/gitfilterd/pkg/objstore"
	"github.com/nseba/gitfilterd/pkg/pointerfilter"
)

// stringSlice is a repeatable string flag (-delay-glob "*.bin" -delay-glob "*.psd").
type stringSlice []string

func (s *stringSlice) String() string { return "" }
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	storePath := flag.String("store", ".git/gitfilterd/objects", "content-addressable store directory")
	algorithm := flag.String("algorithm", "", "hash algorithm: sha1 or sha256 (default sha1)")
	workers := flag.Int("workers", 0, "number of delayed-smudge worker goroutines (default 4)")
	var delayGlobs stringSlice
	flag.Var(&delayGlobs, "delay-glob", "path.Match pattern that should prefer delayed smudge (may be repeated)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("gitfilterd: %v", err)
	}
	storeSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "store" {
			storeSet = true
		}
	})
	if storeSet || cfg.StorePath == "" {
		cfg.StorePath = *storePath
	}
	if *algorithm != "" {
		cfg.Algorithm = *algorithm
	}
	if *workers != 0 {
		cfg.Workers = *workers
	}
	if len(delayGlobs) > 0 {
		cfg.DelayGlobs = []string(delayGlobs)
	}

	hasher, err := cfg.hasher()
	if err != nil {
		log.Fatalf("gitfilterd: %v", err)
	}

	store, err := objstore.Open(cfg.StorePath, hasher)
	if err != nil {
		log.Fatalf("gitfilterd: open store %s: %v", cfg.StorePath, err)
	}

	var procOpts []pointerfilter.Option
	if cfg.Workers > 0 {
		procOpts = append(procOpts, pointerfilter.WithWorkers(cfg.Workers))
	}
	if len(cfg.DelayGlobs) > 0 {
		procOpts = append(procOpts, pointerfilter.WithDelayGlobs(cfg.DelayGlobs...))
	}
	proc := pointerfilter.New(store, hasher, procOpts...)
	defer proc.Close()

	sessionID := uuid.New().String()
	logFields := func(event string, fields map[string]any) {
		log.Printf("session=%s event=%s fields=%v", sessionID, event, fields)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("session=%s received %v, exiting", sessionID, sig)
		os.Exit(0)
	}()

	srv := filter.New(proc, filter.WithLogger(logFields))
	log.Printf("session=%s starting store=%s algorithm=%s", sessionID, cfg.StorePath, hasher.Algorithm())
	if err := srv.Run(os.Stdin, os.Stdout); err != nil {
		log.Fatalf("session=%s filter session failed: %v", sessionID, err)
	}
	log.Printf("session=%s session complete", sessionID)
}
