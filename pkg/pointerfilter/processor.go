// Package pointerfilter implements a Git-LFS-style filter.Processor: clean
// replaces staged content with a small text pointer into a content-addressable
// Store, and smudge resolves a pointer back into the real bytes, either
// inline or through the delayed-blob path backed by a worker pool.
package pointerfilter

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/nseba/gitfilterd/pkg/filter"
	"github.com/nseba/gitfilterd/pkg/objstore"
)

// Processor is a filter.Processor backed by an objstore.Store. The
// zero value is not usable; construct with New.
type Processor struct {
	filter.NoopProcessor

	store      *objstore.Store
	hasher     objstore.Hasher
	delayGlobs []string
	workers    int
	queue      chan job
	closeOnce  sync.Once
	quit       chan struct{}

	mu   sync.Mutex
	jobs map[string]*scheduledJob
}

type job struct {
	pathname string
	data     []byte
}

type scheduledJob struct {
	done    chan struct{}
	pointer Pointer
	content []byte
	err     error
}

// Option configures a Processor.
type Option func(*Processor)

// WithDelayGlobs sets the path.Match patterns ShouldDelay consults to
// decide whether a can-delay smudge request should be scheduled
// instead of processed inline, mirroring .gitattributes-driven LFS
// path selection. With no patterns configured, every smudge offering
// can-delay=1 is scheduled.
func WithDelayGlobs(globs ...string) Option {
	return func(p *Processor) { p.delayGlobs = globs }
}

// WithWorkers sets how many goroutines service scheduled smudge jobs.
// The default is 4.
func WithWorkers(n int) Option {
	return func(p *Processor) { p.workers = n }
}

// New returns a Processor storing content in store, hashed with
// hasher, and starts its background worker pool. Call Close when the
// session ends to stop the workers.
func New(store *objstore.Store, hasher objstore.Hasher, opts ...Option) *Processor {
	p := &Processor{
		store:   store,
		hasher:  hasher,
		workers: 4,
		jobs:    map[string]*scheduledJob{},
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan job, p.workers*2)
	for i := 0; i < p.workers; i++ {
		go p.work()
	}
	return p
}

// Close stops the worker pool. It does not wait for in-flight jobs;
// callers that scheduled work must have already collected it via
// GetScheduled.
func (p *Processor) Close() {
	p.closeOnce.Do(func() { close(p.quit) })
}

func (p *Processor) work() {
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.queue:
			p.runJob(j)
		}
	}
}

func (p *Processor) runJob(j job) {
	sj := p.lookup(j.pathname)

	pointer, err := ParsePointer(string(j.data))
	if err != nil {
		sj.err = err
		close(sj.done)
		return
	}
	h, err := p.store.ParseHash(pointer.OID)
	if err != nil {
		sj.err = fmt.Errorf("pointerfilter: %w", err)
		close(sj.done)
		return
	}

	var buf bytes.Buffer
	if err := p.store.Get(h, &buf); err != nil {
		sj.err = fmt.Errorf("pointerfilter: fetch %s: %w", pointer.OID, err)
		close(sj.done)
		return
	}
	sj.pointer = pointer
	sj.content = buf.Bytes()
	close(sj.done)
}

func (p *Processor) lookup(pathname string) *scheduledJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs[pathname]
}

// SupportsProcessing reports support for both directions.
func (p *Processor) SupportsProcessing(t filter.ProcessingType) bool { return true }

// ShouldDelay asks for delayed delivery on smudge when pathname
// matches one of the configured delay globs (or when none are
// configured). Git only honors this when the client also offered
// can-delay=1 for the request.
func (p *Processor) ShouldDelay(pathname string, t filter.ProcessingType) bool {
	if t != filter.Smudge {
		return false
	}
	if len(p.delayGlobs) == 0 {
		return true
	}
	for _, glob := range p.delayGlobs {
		if ok, err := path.Match(glob, pathname); err == nil && ok {
			return true
		}
	}
	return false
}

// Process runs a clean or smudge request inline, blocking until it
// completes.
func (p *Processor) Process(pathname string, t filter.ProcessingType, input io.Reader, output io.Writer) error {
	switch t {
	case filter.Clean:
		return p.clean(input, output)
	case filter.Smudge:
		return p.smudge(input, output)
	default:
		return fmt.Errorf("pointerfilter: unknown processing type %v", t)
	}
}

func (p *Processor) clean(input io.Reader, output io.Writer) error {
	content, err := io.ReadAll(input)
	if err != nil {
		return fmt.Errorf("pointerfilter: read content: %w", err)
	}
	h, err := p.store.Put(content)
	if err != nil {
		return fmt.Errorf("pointerfilter: store content: %w", err)
	}
	pointer := Pointer{Algorithm: string(p.hasher.Algorithm()), OID: h.String(), Size: int64(len(content))}
	_, err = io.WriteString(output, pointer.String())
	return err
}

func (p *Processor) smudge(input io.Reader, output io.Writer) error {
	text, err := io.ReadAll(input)
	if err != nil {
		return fmt.Errorf("pointerfilter: read pointer: %w", err)
	}
	pointer, err := ParsePointer(string(text))
	if err != nil {
		return err
	}
	h, err := p.store.ParseHash(pointer.OID)
	if err != nil {
		return fmt.Errorf("pointerfilter: %w", err)
	}
	if err := p.store.Get(h, output); err != nil {
		return fmt.Errorf("pointerfilter: fetch %s: %w", pointer.OID, err)
	}
	return nil
}

// ScheduleProcess accepts a delayed smudge request: it reads the
// pointer text immediately (the request's payload stream must be
// drained before the state machine moves on) and hands the fetch off
// to the worker pool, to be collected later via GetScheduled.
func (p *Processor) ScheduleProcess(pathname string, t filter.ProcessingType, input io.Reader) error {
	if t != filter.Smudge {
		return fmt.Errorf("pointerfilter: only smudge may be delayed")
	}
	data, err := io.ReadAll(input)
	if err != nil {
		return fmt.Errorf("pointerfilter: read pointer: %w", err)
	}

	sj := &scheduledJob{done: make(chan struct{})}
	p.mu.Lock()
	p.jobs[pathname] = sj
	p.mu.Unlock()

	p.queue <- job{pathname: pathname, data: data}
	return nil
}

// GetScheduled blocks until the job queued for pathname completes and
// writes its resolved content to output.
func (p *Processor) GetScheduled(pathname string, t filter.ProcessingType, output io.Writer) error {
	p.mu.Lock()
	sj, ok := p.jobs[pathname]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("pointerfilter: no scheduled job for %q", pathname)
	}

	<-sj.done

	p.mu.Lock()
	delete(p.jobs, pathname)
	p.mu.Unlock()

	if sj.err != nil {
		return sj.err
	}
	_, err := output.Write(sj.content)
	return err
}

// GetAvailable lists pathnames whose scheduled job has finished.
func (p *Processor) GetAvailable() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ready []string
	for pathname, sj := range p.jobs {
		select {
		case <-sj.done:
			ready = append(ready, pathname)
		default:
		}
	}
	return ready, nil
}

var _ filter.Processor = (*Processor)(nil)
