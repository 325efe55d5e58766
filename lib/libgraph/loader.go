package libgraph

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/depstore/lib/taskexec"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
)

var plog = logger.GetLogger("libgraph")

// ErrCancelled is reported by the past and present results of a cancelled
// unit
var ErrCancelled = taskexec.ErrCancelled

// LoadError is the failure of loading one library version
type LoadError struct {
	Library string
	Path    string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading library %s from %s: %v", e.Library, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// --------------------------------------------------------------------------
// Loader
// --------------------------------------------------------------------------

// Options configure a Loader
type Options struct {
	Strategy      taskexec.Strategy
	PoolSize      int      // Pool strategy only
	CacheCapacity int      // graphs held strongly by the cache
	NodeFunc      NodeFunc // nil means classfile.Parse
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		Strategy:      taskexec.DefaultStrategy(),
		CacheCapacity: 64,
	}
}

// Change names the past and present archive of one library. An empty path
// means the library did not exist at that point and loads as an empty
// graph.
type Change struct {
	Library     string
	PastPath    string
	PresentPath string
}

// Loader loads the past and present graphs of changed libraries
// concurrently, going through a shared digest keyed Cache.
type Loader struct {
	opts     Options
	cache    *Cache
	registry metrics.Registry
	failed   metrics.Counter
}

// NewLoader creates a loader with its own cache and metrics registry
func NewLoader(opts Options) (*Loader, error) {
	registry := metrics.NewRegistry()
	extractor := Extractor{NodeFunc: opts.NodeFunc}
	cache, err := NewCache(opts.CacheCapacity, extractor.ExtractFile, registry)
	if err != nil {
		return nil, err
	}
	return &Loader{
		opts:     opts,
		cache:    cache,
		registry: registry,
		failed:   metrics.GetOrRegisterCounter("libgraph.load.failed", registry),
	}, nil
}

// Cache returns the cache of the loader
func (l *Loader) Cache() *Cache {
	return l.cache
}

// Metrics returns the registry holding the loader metrics
func (l *Loader) Metrics() metrics.Registry {
	return l.registry
}

// Load starts loading every change and returns immediately. An executor is
// created for the batch and closed once all tasks are submitted. Cancelling
// ctx cancels the whole batch.
func (l *Loader) Load(ctx context.Context, changes []Change) *Batch {
	ctx, cancel := context.WithCancel(ctx)
	b := &Batch{cancel: cancel, byLibrary: make(map[string]*Unit, len(changes))}

	exec := taskexec.New(taskexec.Options{Strategy: l.opts.Strategy, PoolSize: l.opts.PoolSize})
	defer exec.Close()

	for _, ch := range changes {
		u := &Unit{Library: ch.Library}
		u.past = l.submit(ctx, exec, ch.Library, ch.PastPath, false)
		u.present = l.submit(ctx, exec, ch.Library, ch.PresentPath, true)
		b.units = append(b.units, u)
		b.byLibrary[ch.Library] = u
	}
	plog.Debugf("submitted %d library changes", len(changes))
	return b
}

func (l *Loader) submit(ctx context.Context, exec *taskexec.Executor, library, path string, present bool) *taskexec.Future[*Result] {
	f, err := taskexec.Submit(ctx, exec, func(ctx context.Context) (*Result, error) {
		return l.load(ctx, library, path, present)
	})
	if err != nil {
		return taskexec.Failed[*Result](err)
	}
	return f
}

func (l *Loader) load(ctx context.Context, library, path string, present bool) (*Result, error) {
	if path == "" {
		return EmptyResult(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lib, err := DescribeFile(library, path)
	if err != nil {
		l.failed.Inc(1)
		return nil, &LoadError{Library: library, Path: path, Err: err}
	}

	var res *Result
	if present {
		res, err = l.cache.Load(ctx, lib)
	} else {
		res, err = l.cache.Get(ctx, lib)
	}
	if err != nil {
		if isContextErr(err) {
			return nil, err
		}
		l.failed.Inc(1)
		plog.Warningf("loading %s failed: %v", lib, err)
		return nil, &LoadError{Library: library, Path: path, Err: err}
	}
	return res, nil
}

// --------------------------------------------------------------------------
// Batch and Unit
// --------------------------------------------------------------------------

// Batch is the set of units started by one Load call
type Batch struct {
	cancel    context.CancelFunc
	units     []*Unit
	byLibrary map[string]*Unit
}

// Units returns the units in the order of the changes
func (b *Batch) Units() []*Unit {
	return b.units
}

// Unit returns the unit of library
func (b *Batch) Unit(library string) (*Unit, bool) {
	u, ok := b.byLibrary[library]
	return u, ok
}

// Cancel cancels every unit of the batch
func (b *Batch) Cancel() {
	for _, u := range b.units {
		u.Cancel()
	}
	b.cancel()
}

// Close cancels the batch and waits until all its tasks have returned
func (b *Batch) Close() {
	b.Cancel()
	for _, u := range b.units {
		<-u.past.Done()
		<-u.present.Done()
	}
}

// Wait waits until every unit finished or ctx is done
func (b *Batch) Wait(ctx context.Context) error {
	for _, u := range b.units {
		for _, f := range []*taskexec.Future[*Result]{u.past, u.present} {
			select {
			case <-f.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Unit is the pair of past and present loads of one library. Both are
// cancelled together.
type Unit struct {
	Library string
	past    *taskexec.Future[*Result]
	present *taskexec.Future[*Result]
}

// Cancel cancels the past and the present load. Both report ErrCancelled
// afterwards, also if they had already finished.
func (u *Unit) Cancel() {
	u.past.Cancel()
	u.present.Cancel()
}

// Cancelled reports whether the past or the present load was cancelled
func (u *Unit) Cancelled() bool {
	return u.past.Cancelled() || u.present.Cancelled()
}

// Past waits for the graph of the previous library version
func (u *Unit) Past(ctx context.Context) (*Result, error) {
	return u.past.Wait(ctx)
}

// Present waits for the graph of the current library version
func (u *Unit) Present(ctx context.Context) (*Result, error) {
	return u.present.Wait(ctx)
}

// Result waits for both loads and returns the present graph. An error of
// either load is returned.
func (u *Unit) Result(ctx context.Context) (*Result, error) {
	if _, err := u.past.Wait(ctx); err != nil {
		return nil, err
	}
	return u.present.Wait(ctx)
}
