// Package session implements spec.md §6's external API: the editable
// document (spec.md §3's Session) that owns the source Image, the active
// filter graph, and the render scheduler, and serializes every mutation
// and render request onto one owning goroutine (spec.md §5).
package session

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/backend/cpu"
	"github.com/grayforge/engine/internal/backend/gpu"
	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/filter/bwmixer"
	"github.com/grayforge/engine/internal/filter/curves"
	"github.com/grayforge/engine/internal/filter/grain"
	"github.com/grayforge/engine/internal/filter/sharpen"
	"github.com/grayforge/engine/internal/filter/splittone"
	"github.com/grayforge/engine/internal/filter/vignette"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
	"github.com/grayforge/engine/internal/preset"
	"github.com/grayforge/engine/internal/scheduler"
)

// Target distinguishes a preview output from a final one, re-exported
// from internal/scheduler since it is also part of this package's public
// surface (Output's parameter).
type Target = scheduler.Target

const (
	Preview = scheduler.Preview
	Final   = scheduler.Final
)

// JobID identifies one RequestRender call, returned immediately so a
// caller can Cancel it later without holding a reference to anything
// internal.
type JobID uint64

// RenderRequest is one render job's caller-facing parameters (spec.md
// §4.6's Render Scheduler inputs, minus the filter graph and source,
// which the Session already owns).
type RenderRequest struct {
	Rect    image.Rectangle
	Target  Target
	Quality float64       // [0.1, 1.0]; ignored for Target == Final
	Budget  time.Duration // advisory preview frame budget; 0 means none
}

// defaultGraphOrder is the Session's fixed filter-graph order. spec.md
// describes the graph as caller-orderable, but the external API spec.md
// §6 names (SetFilterParameters/EnableFilter, keyed by Kind, with no
// reorder call) only ever addresses filters by kind — so Session fixes
// the order to the Kind enum's own declaration order and exposes no way
// to change it. A future reorder API would slot in here.
var defaultGraphOrder = []filter.Kind{
	filter.BWMixer, filter.Curves, filter.CascadedSharpen,
	filter.FilmGrain, filter.SplitTone, filter.Vignette,
}

// curvesLUTLength picks the tone-curve LUT size spec.md §4.4.2 requires:
// one entry per representable integer value (format.MaxValue()+1), or a
// fixed 4096-point table for float formats, which have no natural sample
// count.
func curvesLUTLength(format pixfmt.Format) int {
	if format.IsFloat() {
		return 4096
	}
	return int(format.MaxValue()) + 1
}

func newDefaultFilter(kind filter.Kind, format pixfmt.Format) filter.Filter {
	switch kind {
	case filter.BWMixer:
		return bwmixer.New("bwmixer")
	case filter.Curves:
		return curves.New("curves", curvesLUTLength(format))
	case filter.CascadedSharpen:
		return sharpen.New("sharpen")
	case filter.FilmGrain:
		return grain.New("filmgrain")
	case filter.SplitTone:
		return splittone.New("splittone")
	case filter.Vignette:
		return vignette.New("vignette")
	default:
		panic(fmt.Sprintf("session: unknown filter kind %v", kind))
	}
}

type renderJob struct {
	id  JobID
	ctx context.Context
	req scheduler.Request
}

type jobResult struct {
	stale bool
	err   error
}

// Session is spec.md §3's Session: the editable document. It owns the
// source Image (a *layer.Stack), the active filter graph, the backend
// device set, and the render scheduler, and funnels every parameter
// change and render request through s.mu so that "only one session
// mutation at a time" (spec.md §5) holds regardless of caller goroutine.
type Session struct {
	mu      sync.Mutex
	stack   *layer.Stack
	devs    filter.Devices
	primary backend.ID
	sched   *scheduler.Scheduler
	graph   []scheduler.GraphEntry
	byKind  map[filter.Kind]int // index into graph

	previewOut *layer.Layer
	finalOut   *layer.Layer

	jobSeq  atomic.Uint64
	cancels map[JobID]context.CancelFunc
	active  JobID

	resultsMu sync.Mutex
	results   map[JobID]jobResult

	jobs   chan renderJob
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Create opens a session over source with the requested backend set.
// backends must select at least one backend; CPU is tried first if
// present in the set so a GPU-less build still works, but GPU is
// preferred as the session's primary device when both are available,
// matching spec.md §5's "live preview on GPU with a CPU fallback on
// device loss" framing.
func Create(source *layer.Stack, backends backend.Set) (*Session, error) {
	if source == nil || source.Len() == 0 {
		return nil, fmt.Errorf("session: source image has no layers")
	}
	devs := filter.Devices{}
	if backends[backend.CPU] {
		devs[backend.CPU] = cpu.New(0)
	}
	if backends[backend.GPU] {
		devs[backend.GPU] = gpu.New(64)
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("session: backend set selects no backend")
	}
	primary := backend.CPU
	if _, ok := devs[backend.GPU]; ok {
		primary = backend.GPU
	}

	src := source.Top()
	graph := make([]scheduler.GraphEntry, len(defaultGraphOrder))
	byKind := make(map[filter.Kind]int, len(defaultGraphOrder))
	for i, kind := range defaultGraphOrder {
		graph[i] = scheduler.GraphEntry{Filter: newDefaultFilter(kind, src.Format()), Enabled: false}
		byKind[kind] = i
	}

	s := &Session{
		stack:      source,
		devs:       devs,
		primary:    primary,
		sched:      scheduler.New(),
		graph:      graph,
		byKind:     byKind,
		previewOut: layer.New("preview-output", src.Format(), src.Width(), src.Height()),
		finalOut:   layer.New("final-output", src.Format(), src.Width(), src.Height()),
		cancels:    make(map[JobID]context.CancelFunc),
		results:    make(map[JobID]jobResult),
		jobs:       make(chan renderJob, 8),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.dispatchLoop()
	return s, nil
}

// Close stops the dispatch goroutine. In-flight renders are cancelled;
// Output keeps returning the last committed result for either target.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	close(s.jobs)
	s.wg.Wait()
	return nil
}

// SetFilterParameters applies p to the filter instance of the given kind,
// matching spec.md §4.4's "preset round trip" (FromPreset). Parameter
// changes observed before the next RequestRender are included in that
// render; the lock here is exactly what makes that ordering guarantee
// (spec.md §5/§4.6 "Ordering guarantees") hold.
func (s *Session) SetFilterParameters(kind filter.Kind, p preset.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byKind[kind]
	if !ok {
		return fmt.Errorf("session: unknown filter kind %v", kind)
	}
	f := s.graph[idx].Filter
	if !f.FromPreset(&p) {
		return fmt.Errorf("session: preset %q does not match filter %v", p.Name, kind)
	}
	f.Precompute()
	return nil
}

// EnableFilter flips kind's enable bit in the active graph, independent of
// its parameters (spec.md §3).
func (s *Session) EnableFilter(kind filter.Kind, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byKind[kind]
	if !ok {
		return
	}
	s.graph[idx].Enabled = enabled
	if !enabled {
		s.graph[idx].Filter.ReleaseCache()
	}
}

// RequestRender submits req for asynchronous execution on the session's
// one dispatch goroutine. Per spec.md §4.6.5, submitting a new render
// cancels whichever one was previously active — the cancelled render
// still runs to its next filter boundary before giving up (spec.md §5's
// suspension points), it just never overwrites the output layer.
func (s *Session) RequestRender(req RenderRequest) (JobID, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, fmt.Errorf("session: closed")
	}
	if prev, ok := s.cancels[s.active]; ok {
		prev()
	}

	id := JobID(s.jobSeq.Add(1))
	ctx, cancel := context.WithCancel(context.Background())
	s.cancels[id] = cancel
	s.active = id

	graphSnapshot := append([]scheduler.GraphEntry(nil), s.graph...)
	src := s.stack.Top()
	s.mu.Unlock()

	out := s.outputFor(req.Target)
	job := renderJob{
		id:  id,
		ctx: ctx,
		req: scheduler.Request{
			Source: src, Graph: graphSnapshot, Rect: req.Rect, Target: req.Target,
			Quality: req.Quality, Output: out, Budget: req.Budget,
		},
	}
	s.jobs <- job
	return id, nil
}

func (s *Session) dispatchLoop() {
	defer s.wg.Done()
	for job := range s.jobs {
		dev := s.devs[s.primary]
		stale, err := s.sched.Render(job.ctx, s.devs, dev, job.req)

		s.resultsMu.Lock()
		s.results[job.id] = jobResult{stale: stale, err: err}
		s.resultsMu.Unlock()

		s.mu.Lock()
		delete(s.cancels, job.id)
		s.mu.Unlock()
	}
}

// Cancel requests that id's render stop at its next filter boundary. It
// is a no-op if id has already completed or was never the active job.
func (s *Session) Cancel(id JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
}

// Result reports id's outcome once its render has finished: whether the
// render overran its advisory budget (always false for Target == Final),
// and any error (including engineerr.ErrCancelled if it lost a race with
// a later RequestRender). ok is false while the render is still pending.
func (s *Session) Result(id JobID) (stale bool, err error, ok bool) {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	res, ok := s.results[id]
	return res.stale, res.err, ok
}

// Devices returns the session's backend device registry, for callers that
// need to load pixels into or read them out of a layer directly (e.g. the
// CLI's decode/encode boundary) rather than through Output/RequestRender.
// The map is built once in Create and never mutated afterward, so sharing
// it needs no additional synchronization.
func (s *Session) Devices() filter.Devices {
	return s.devs
}

// Output returns the layer holding the most recently committed render
// for target. It is safe to call at any time, including while a render is
// in flight — Layer.Copy only ever publishes a complete result, so callers
// never observe a partially-rendered buffer.
func (s *Session) Output(target Target) (*layer.Layer, error) {
	out := s.outputFor(target)
	if out == nil {
		return nil, fmt.Errorf("session: unknown target %v", target)
	}
	return out, nil
}

func (s *Session) outputFor(target Target) *layer.Layer {
	switch target {
	case Preview:
		return s.previewOut
	case Final:
		return s.finalOut
	default:
		return nil
	}
}
