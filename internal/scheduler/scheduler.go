// Package scheduler implements the render scheduler of spec.md §4.6: a
// preview downscaling stage, ping-pong scratch layers driving the filter
// graph in order, commit into the requested output layer, and one
// cancellable render in flight per scheduler (spec.md §4.6.5's
// backpressure rule, applied at the session level — see the session
// package, which owns one Scheduler per session and stores the active
// context.CancelFunc).
package scheduler

import (
	"context"
	"image"
	"time"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/engineerr"
	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
)

// Target distinguishes a cheap, possibly-stale interactive render from a
// full-quality one with no time budget (spec.md §4.6).
type Target int

const (
	Preview Target = iota
	Final
)

// GraphEntry is one filter graph slot: a filter instance plus whether it
// currently participates in a render, independent of its parameters
// (spec.md §3: "enabled or disabled in the active graph independently of
// its parameters").
type GraphEntry struct {
	Filter  filter.Filter
	Enabled bool
}

// DefaultPreviewBudget is spec.md §4.6 step 1's default preview_budget:
// the maximum of a preview render's width/height, in pixels.
const DefaultPreviewBudget = 2560

// Scheduler owns the preview-downscale cache and the ping-pong scratch
// layers for one session's render pipeline. It is not safe for concurrent
// Render calls — the session package serializes renders onto its one
// dispatch goroutine, matching spec.md §5's scheduling model.
type Scheduler struct {
	PreviewBudget int

	previewSource *layer.Layer
	previewFactor float64
	previewQual   float64
	previewLayer  *layer.Layer

	scratchA, scratchB          *layer.Layer
	scratchWidth, scratchHeight int
	scratchFormat               pixfmt.Format
}

// New creates a scheduler with the spec default preview budget.
func New() *Scheduler {
	return &Scheduler{PreviewBudget: DefaultPreviewBudget}
}

// Request is one render job's parameters.
type Request struct {
	Source  *layer.Layer
	Graph   []GraphEntry
	Rect    image.Rectangle
	Target  Target
	Quality float64 // [0.1, 1.0]; selects the preview downscale algorithm
	Output  *layer.Layer
	Budget  time.Duration // advisory frame budget; 0 means none (spec.md §4.6 step 6)
}

// Render executes spec.md §4.6 steps 1-4 for one request: downscale (for
// preview targets), allocate/reuse ping-pong scratch layers, dispatch each
// enabled filter in graph order swapping src/dst between each, and commit
// the result into req.Output. It checks ctx.Done() only at filter
// boundaries (spec.md §5's "suspension points" — individual kernels run to
// completion), returning engineerr.ErrCancelled if the context was
// cancelled before a boundary was reached. The returned stale flag is
// spec.md §4.6 step 6's budget signal: a preview render that overran its
// advisory budget is not aborted, only reported.
func (s *Scheduler) Render(ctx context.Context, devs filter.Devices, dev backend.Device, req Request) (stale bool, err error) {
	start := time.Now()

	working := req.Source
	if req.Target == Preview {
		scaled, err := s.ensurePreview(devs, dev, req.Source, req.Quality)
		if err != nil {
			return false, err
		}
		working = scaled
	}

	if err := s.ensureScratch(working); err != nil {
		return false, err
	}
	src, dst := s.scratchA, s.scratchB
	if err := src.Copy(devs, working, working.Rect(), image.Point{}); err != nil {
		return false, err
	}

	rect := req.Rect
	if req.Target == Preview {
		rect = scaledRect(rect, req.Source, working)
	}

	for _, entry := range req.Graph {
		if ctx.Err() != nil {
			return false, engineerr.ErrCancelled
		}
		if !entry.Enabled {
			continue
		}
		if err := entry.Filter.Render(devs, dev, dst, src, rect); err != nil {
			return false, err
		}
		src, dst = dst, src
	}

	if ctx.Err() != nil {
		return false, engineerr.ErrCancelled
	}
	if err := req.Output.Copy(devs, src, rect, rect.Min); err != nil {
		return false, err
	}

	stale = req.Target == Preview && req.Budget > 0 && time.Since(start) > req.Budget
	return stale, nil
}

// ensureScratch (re)allocates the ping-pong scratch layers when the
// working image's size or format changes (spec.md §4.6 step 2: "sized to
// the working image and matching its format").
func (s *Scheduler) ensureScratch(working *layer.Layer) error {
	if s.scratchA != nil && s.scratchWidth == working.Width() && s.scratchHeight == working.Height() && s.scratchFormat == working.Format() {
		return nil
	}
	s.scratchA = layer.New("scratch-a", working.Format(), working.Width(), working.Height())
	s.scratchB = layer.New("scratch-b", working.Format(), working.Width(), working.Height())
	s.scratchWidth, s.scratchHeight, s.scratchFormat = working.Width(), working.Height(), working.Format()
	return nil
}

// scaledRect maps a rectangle expressed in the full-resolution source's
// coordinate space into the downscaled working layer's space.
func scaledRect(rect image.Rectangle, full, working *layer.Layer) image.Rectangle {
	if full.Width() == working.Width() && full.Height() == working.Height() {
		return rect
	}
	fx := float64(working.Width()) / float64(full.Width())
	fy := float64(working.Height()) / float64(full.Height())
	return image.Rect(
		int(float64(rect.Min.X)*fx), int(float64(rect.Min.Y)*fy),
		int(float64(rect.Max.X)*fx), int(float64(rect.Max.Y)*fy),
	).Intersect(working.Rect())
}
