package taskqueue

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/backend/cpu"
	"github.com/grayforge/engine/internal/engineerr"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/pixfmt"
)

// RemoteCPU implements backend.Device by delegating allocation, transfer
// and fill to an embedded local cpu.Device (identical realization, so a
// session can fail over between RemoteCPU and cpu.Device without a format
// or memory-layout change) while routing Dispatch's tile fan-out through a
// Queue instead of a local errgroup pool. Every call still returns only
// once every one of its own tiles has a result, so it satisfies the same
// synchronous contract backend.Device promises — the distribution is an
// implementation detail of how each tile gets computed, not a change to
// when Dispatch returns.
//
// ID() reports backend.CPU: a RemoteCPU image is pixel-for-pixel identical
// to a local cpu.Device image, and the filter graph (internal/filter) never
// special-cases "remote" — it only ever asks for backend.CPU or
// backend.GPU.
type RemoteCPU struct {
	local    *cpu.Device
	queue    *Queue
	consumer string

	renderSeq atomic.Uint64

	workers  int
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[string]chan TileResult // renderID -> fan-in channel, set for the duration of one Dispatch call
	active  map[string]activeKernel    // renderID -> the kernel this process's own Dispatch call is waiting on
}

// NewRemoteCPU wraps local (typically cpu.New(workers)) with a Redis-backed
// tile transport. workers controls how many of this process's own
// goroutines pull from the job stream. A worker computes only jobs whose
// render was dispatched by this same RemoteCPU (see runWorker), so every
// tile of a render is computed by the RemoteCPU that dispatched it.
func NewRemoteCPU(ctx context.Context, local *cpu.Device, q *Queue, consumer string, workers int) (*RemoteCPU, error) {
	if err := q.EnsureGroups(ctx); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 2
	}
	r := &RemoteCPU{
		local:    local,
		queue:    q,
		consumer: consumer,
		workers:  workers,
		stop:     make(chan struct{}),
		pending:  make(map[string]chan TileResult),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.runWorker(i)
	}
	return r, nil
}

// Close stops this process's worker goroutines and closes the underlying
// Redis connection. It does not affect peer processes sharing the same
// queue.
func (r *RemoteCPU) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
	return r.queue.Close()
}

func (r *RemoteCPU) ID() backend.ID { return backend.CPU }

func (r *RemoteCPU) Allocate(format pixfmt.Format, width, height int) (backend.Image, error) {
	return r.local.Allocate(format, width, height)
}

func (r *RemoteCPU) Deallocate(obj backend.Image) { r.local.Deallocate(obj) }

func (r *RemoteCPU) Upload(obj backend.Image, src []byte, rect image.Rectangle) error {
	return r.local.Upload(obj, src, rect)
}

func (r *RemoteCPU) Download(obj backend.Image, dst []byte, rect image.Rectangle) error {
	return r.local.Download(obj, dst, rect)
}

func (r *RemoteCPU) Copy(src backend.Image, srcRect image.Rectangle, dst backend.Image, dstOrigin image.Point) error {
	return r.local.Copy(src, srcRect, dst, dstOrigin)
}

func (r *RemoteCPU) Fill(obj backend.Image, rect image.Rectangle, value pixfmt.Pixel) error {
	return r.local.Fill(obj, rect, value)
}

func (r *RemoteCPU) QueryMemoryUsage() int64 { return r.local.QueryMemoryUsage() }

func (r *RemoteCPU) ReservePool(n int, bytesEach int64) error {
	return r.local.ReservePool(n, bytesEach)
}

// readback recovers the local *kernel.Buffer view of a backend.Image, the
// same way cpu.Device does internally — RemoteCPU only ever allocates
// through r.local, so every backend.Image it hands out implements
// backend.Readback.
func readback(obj backend.Image) (*kernel.Buffer, error) {
	rb, ok := obj.(backend.Readback)
	if !ok {
		return nil, engineerr.ErrFormatMismatch
	}
	return rb.Buffer(), nil
}

// Dispatch decomposes rect into tiles (spec §4.1's tile-order-independence
// invariant: no tile depends on another), pushes each as a TileJob, and
// blocks until this render's TileResults have all arrived, writing each
// into dst as it does. params and fn never leave this process — they are
// applied by one of this RemoteCPU's own worker goroutines, which looks
// them up by renderID when it reads each job.
func (r *RemoteCPU) Dispatch(dstObj, src0Obj, src1Obj backend.Image, rect image.Rectangle, params any, crossChannel bool, fn kernel.PixelKernel) error {
	dst, err := readback(dstObj)
	if err != nil {
		return err
	}
	src0, err := readback(src0Obj)
	if err != nil {
		return err
	}
	var src1 *kernel.Buffer
	if src1Obj != nil {
		src1, err = readback(src1Obj)
		if err != nil {
			return err
		}
	}
	if err := kernel.CheckCompatible(dst, rect, src0, src1); err != nil {
		return err
	}

	renderID := fmt.Sprintf("%s-%d", r.consumer, r.renderSeq.Add(1))
	r.registerKernel(renderID, params, crossChannel, fn, dst.Format)
	defer r.unregisterKernel(renderID)

	resultCh := make(chan TileResult, 16)
	r.mu.Lock()
	r.pending[renderID] = resultCh
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, renderID)
		r.mu.Unlock()
	}()

	ctx := context.Background()
	tiles := kernel.Tiles(rect, kernel.DefaultTileSide)
	for i, tile := range tiles {
		job := TileJob{
			RenderID: renderID, TileID: i,
			X: tile.Min.X, Y: tile.Min.Y, Width: tile.Dx(), Height: tile.Dy(),
			Format: uint8(dst.Format), Data: src0.SubRect(tile).Data,
		}
		if src1 != nil {
			job.Src1Data = src1.SubRect(tile).Data
		}
		if _, err := r.queue.PushJob(ctx, job); err != nil {
			return fmt.Errorf("taskqueue: push tile %d: %w", i, err)
		}
	}

	remaining := make(map[int]image.Rectangle, len(tiles))
	for i, tile := range tiles {
		remaining[i] = tile
	}
	timeout := time.After(30 * time.Second)
	for len(remaining) > 0 {
		select {
		case res := <-resultCh:
			tile, ok := remaining[res.TileID]
			if !ok {
				continue
			}
			out := &kernel.Buffer{Format: dst.Format, Width: tile.Dx(), Height: tile.Dy(), Data: res.Data}
			dst.BlitFrom(tile, out)
			delete(remaining, res.TileID)
		case <-timeout:
			return fmt.Errorf("taskqueue: render %s timed out with %d tiles outstanding", renderID, len(remaining))
		}
	}
	return nil
}

// activeKernel is the per-render state a worker goroutine needs to
// actually compute a tile: the params/fn the calling Dispatch was given,
// keyed by renderID so concurrent Dispatch calls (from distinct sessions
// sharing one RemoteCPU) don't cross-talk. Pixel data never lives here —
// it travels entirely inside the TileJob/TileResult. A worker computes a
// job only if its own RemoteCPU holds an entry for the job's renderID, and
// renderIDs are prefixed with the consumer name of the RemoteCPU that
// dispatched them.
type activeKernel struct {
	params       any
	crossChannel bool
	fn           kernel.PixelKernel
	format       pixfmt.Format
}

func (r *RemoteCPU) registerKernel(renderID string, params any, crossChannel bool, fn kernel.PixelKernel, format pixfmt.Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		r.active = make(map[string]activeKernel)
	}
	r.active[renderID] = activeKernel{params: params, crossChannel: crossChannel, fn: fn, format: format}
}

func (r *RemoteCPU) unregisterKernel(renderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, renderID)
}

// runWorker is this process's share of the worker pool: pull a job, look
// up the active kernel for its render (only set while this process's own
// Dispatch call for that renderID is still blocked waiting on results —
// mirrors the teacher's WorkerPool.worker loop in g/pkg/processor), apply
// it with kernel.ApplyTile, and push the result back.
func (r *RemoteCPU) runWorker(id int) {
	defer r.wg.Done()
	consumer := fmt.Sprintf("%s-worker-%d", r.consumer, id)
	ctx := context.Background()
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		msgID, job, err := r.queue.ReadJob(ctx, consumer, time.Second)
		if err != nil || job == nil {
			continue
		}
		r.mu.Lock()
		ak, ok := r.active[job.RenderID]
		r.mu.Unlock()
		if !ok {
			// Not our render (another process owns it, or it already
			// finished) — leave it unacked. It stays in the consumer
			// group's pending list; nothing in this package calls
			// ClaimStale to hand it to another consumer.
			continue
		}

		local := image.Rect(0, 0, job.Width, job.Height)
		src0Tile := &kernel.Buffer{Format: ak.format, Width: job.Width, Height: job.Height, Data: job.Data}
		var src1Tile *kernel.Buffer
		if job.Src1Data != nil {
			src1Tile = &kernel.Buffer{Format: ak.format, Width: job.Width, Height: job.Height, Data: job.Src1Data}
		}
		dst := kernel.NewBuffer(ak.format, job.Width, job.Height)
		kernel.ApplyTile(dst, src0Tile, src1Tile, local, ak.params, ak.crossChannel, ak.fn)

		result := TileResult{
			RenderID: job.RenderID, TileID: job.TileID,
			X: job.X, Y: job.Y, Width: job.Width, Height: job.Height,
			Format: job.Format, Data: dst.Data,
		}
		// Publish to the results stream for any external consumer watching
		// progress (mirrors the teacher's assembler), then hand the result
		// straight to the waiting Dispatch call rather than making it read
		// its own publish back off Redis.
		if _, err := r.queue.PushResult(ctx, result); err != nil {
			continue
		}
		_ = r.queue.AckJob(ctx, msgID)

		r.mu.Lock()
		ch, has := r.pending[job.RenderID]
		r.mu.Unlock()
		if has {
			select {
			case ch <- result:
			default:
			}
		}
	}
}
