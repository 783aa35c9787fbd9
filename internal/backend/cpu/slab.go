package cpu

import (
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/pixfmt"
)

// slabPool is the CPU backend's slab allocator (spec §4.2): it pre-reserves
// buffers of a given byte footprint so repeated renders at the same
// working-layer size don't churn the Go allocator. Keyed by (format,
// width, height) since a slab of the wrong shape is useless even if its
// byte length happens to match.
type slabPool struct {
	free map[slabKey][]*kernel.Buffer
}

type slabKey struct {
	format        pixfmt.Format
	width, height int
}

func newSlabPool() *slabPool {
	return &slabPool{free: make(map[slabKey][]*kernel.Buffer)}
}

func (p *slabPool) take(format pixfmt.Format, width, height int) *kernel.Buffer {
	key := slabKey{format, width, height}
	if bufs := p.free[key]; len(bufs) > 0 {
		buf := bufs[len(bufs)-1]
		p.free[key] = bufs[:len(bufs)-1]
		clearBuffer(buf)
		return buf
	}
	return kernel.NewBuffer(format, width, height)
}

func (p *slabPool) release(buf *kernel.Buffer) {
	key := slabKey{buf.Format, buf.Width, buf.Height}
	p.free[key] = append(p.free[key], buf)
}

// reserve pre-populates the pool with n empty buffers sized bytesEach,
// under a synthetic Mono8 key sized to match the requested byte count —
// callers that know their working layer's exact (format, width, height)
// should let take() grow the pool organically instead; reserve exists for
// the scheduler hint named in spec §4.6.2 ("held in the backend's image
// pool across renders") where only a byte budget is known up front.
func (p *slabPool) reserve(n int, bytesEach int64) {
	key := slabKey{pixfmt.Mono8, int(bytesEach), 1}
	for i := 0; i < n; i++ {
		p.free[key] = append(p.free[key], &kernel.Buffer{
			Format: pixfmt.Mono8,
			Width:  int(bytesEach),
			Height: 1,
			Data:   make([]byte, bytesEach),
		})
	}
}

// trim drops every pooled slab — release_unused() in spec terms.
func (p *slabPool) trim() {
	p.free = make(map[slabKey][]*kernel.Buffer)
}

func (p *slabPool) freeBytes() int64 {
	var total int64
	for _, bufs := range p.free {
		for _, b := range bufs {
			total += int64(len(b.Data))
		}
	}
	return total
}

func clearBuffer(buf *kernel.Buffer) {
	for i := range buf.Data {
		buf.Data[i] = 0
	}
}
