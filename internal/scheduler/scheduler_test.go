package scheduler

import (
	"context"
	"testing"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/backend/cpu"
	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/filter/bwmixer"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
)

func testDevices() filter.Devices {
	return filter.Devices{backend.CPU: cpu.New(2)}
}

func TestRenderWithNoEnabledFiltersIsIdentity(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 8, 8)
	if err := src.Fill(devs, backend.CPU, src.Rect(), pixfmt.Pixel{N: 4, V: [4]float32{10, 20, 30, 255}}); err != nil {
		t.Fatal(err)
	}
	out := layer.New("out", pixfmt.RGBA8, 8, 8)

	s := New()
	req := Request{Source: src, Rect: src.Rect(), Target: Final, Output: out}
	if _, err := s.Render(context.Background(), devs, dev, req); err != nil {
		t.Fatal(err)
	}

	srcBuf := kernel.NewBuffer(pixfmt.RGBA8, 8, 8)
	src.Retrieve(devs, srcBuf, src.Rect())
	outBuf := kernel.NewBuffer(pixfmt.RGBA8, 8, 8)
	out.Retrieve(devs, outBuf, out.Rect())
	if !kernel.Equal(srcBuf, outBuf) {
		t.Fatal("expected an empty/disabled graph to produce the identity")
	}
}

func TestDisabledFilterDoesNotRun(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 8, 8)
	if err := src.Fill(devs, backend.CPU, src.Rect(), pixfmt.Pixel{N: 4, V: [4]float32{10, 20, 30, 255}}); err != nil {
		t.Fatal(err)
	}
	out := layer.New("out", pixfmt.RGBA8, 8, 8)

	mixer := bwmixer.New("off")
	s := New()
	req := Request{
		Source: src, Rect: src.Rect(), Target: Final, Output: out,
		Graph: []GraphEntry{{Filter: mixer, Enabled: false}},
	}
	if _, err := s.Render(context.Background(), devs, dev, req); err != nil {
		t.Fatal(err)
	}

	srcBuf := kernel.NewBuffer(pixfmt.RGBA8, 8, 8)
	src.Retrieve(devs, srcBuf, src.Rect())
	outBuf := kernel.NewBuffer(pixfmt.RGBA8, 8, 8)
	out.Retrieve(devs, outBuf, out.Rect())
	if !kernel.Equal(srcBuf, outBuf) {
		t.Fatal("expected a disabled filter to leave the output identical to the source")
	}
}

func TestEnabledFilterRuns(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 8, 8)
	if err := src.Fill(devs, backend.CPU, src.Rect(), pixfmt.Pixel{N: 4, V: [4]float32{200, 10, 10, 255}}); err != nil {
		t.Fatal(err)
	}
	out := layer.New("out", pixfmt.RGBA8, 8, 8)

	mixer := bwmixer.New("on")
	s := New()
	req := Request{
		Source: src, Rect: src.Rect(), Target: Final, Output: out,
		Graph: []GraphEntry{{Filter: mixer, Enabled: true}},
	}
	if _, err := s.Render(context.Background(), devs, dev, req); err != nil {
		t.Fatal(err)
	}

	outBuf := kernel.NewBuffer(pixfmt.RGBA8, 8, 8)
	out.Retrieve(devs, outBuf, out.Rect())
	p := outBuf.At(0, 0)
	if p.V[0] != p.V[1] || p.V[1] != p.V[2] {
		t.Fatalf("expected bwmixer to desaturate the output, got %+v", p)
	}
}

func TestCancelledContextStopsBeforeNextFilter(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 4, 4)
	src.Fill(devs, backend.CPU, src.Rect(), pixfmt.Pixel{N: 4, V: [4]float32{1, 2, 3, 255}})
	out := layer.New("out", pixfmt.RGBA8, 4, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New()
	req := Request{
		Source: src, Rect: src.Rect(), Target: Final, Output: out,
		Graph: []GraphEntry{{Filter: bwmixer.New("m"), Enabled: true}},
	}
	_, err := s.Render(ctx, devs, dev, req)
	if err == nil {
		t.Fatal("expected a pre-cancelled context to abort before the first filter boundary")
	}
}

func TestDownscaleFactorClampsToBudget(t *testing.T) {
	if f := downscaleFactor(5000, 2000, 2560); f != 2560.0/5000.0 {
		t.Fatalf("unexpected factor: %v", f)
	}
	if f := downscaleFactor(100, 50, 2560); f != 1 {
		t.Fatalf("expected no downscale for a small image, got %v", f)
	}
}

func TestPreviewCacheReusedAcrossRenders(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 4000, 2000)
	if err := src.Fill(devs, backend.CPU, src.Rect(), pixfmt.Pixel{N: 4, V: [4]float32{5, 5, 5, 255}}); err != nil {
		t.Fatal(err)
	}
	s := New()
	quality := 0.8
	preview1, err := s.ensurePreview(devs, dev, src, quality)
	if err != nil {
		t.Fatal(err)
	}
	preview2, err := s.ensurePreview(devs, dev, src, quality)
	if err != nil {
		t.Fatal(err)
	}
	if preview1 != preview2 {
		t.Fatal("expected the second call to reuse the cached preview layer")
	}
}
