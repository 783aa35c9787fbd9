package grain

import (
	"image"
	"testing"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/backend/cpu"
	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/filter/curves"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
)

func testDevices() filter.Devices {
	return filter.Devices{backend.CPU: cpu.New(2)}
}

func midtoneLayer(t *testing.T, devs filter.Devices, l *layer.Layer) {
	t.Helper()
	buf := kernel.NewBuffer(l.Format(), l.Width(), l.Height())
	for y := 0; y < l.Height(); y++ {
		for x := 0; x < l.Width(); x++ {
			buf.Set(x, y, pixfmt.Pixel{N: 4, V: [4]float32{128, 128, 128, 255}})
		}
	}
	if err := l.WriteBuffer(devs, buf, image.Point{}); err != nil {
		t.Fatal(err)
	}
}

func TestRenderAddsGrainOnMidtones(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 16, 16)
	midtoneLayer(t, devs, src)
	dst := layer.New("dst", pixfmt.RGBA8, 16, 16)

	f := New("Grain")
	if err := f.Render(devs, dev, dst, src, dst.Rect()); err != nil {
		t.Fatal(err)
	}

	srcBuf := kernel.NewBuffer(pixfmt.RGBA8, 16, 16)
	src.Retrieve(devs, srcBuf, src.Rect())
	dstBuf := kernel.NewBuffer(pixfmt.RGBA8, 16, 16)
	dst.Retrieve(devs, dstBuf, dst.Rect())
	if kernel.Equal(srcBuf, dstBuf) {
		t.Fatal("expected grain to perturb a flat midtone source")
	}
}

func TestTileCacheReusedAcrossRenders(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 16, 16)
	midtoneLayer(t, devs, src)
	dst := layer.New("dst", pixfmt.RGBA8, 16, 16)

	f := New("Grain")
	if err := f.Render(devs, dev, dst, src, dst.Rect()); err != nil {
		t.Fatal(err)
	}
	firstBlur := f.tile.blurred
	if err := f.Render(devs, dev, dst, src, dst.Rect()); err != nil {
		t.Fatal(err)
	}
	if f.tile.blurred != firstBlur {
		t.Fatal("expected the blurred grain tile to be reused, not regenerated")
	}
}

func TestReleaseCacheDropsTileAndLUT(t *testing.T) {
	f := New("Grain")
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 8, 8)
	midtoneLayer(t, devs, src)
	dst := layer.New("dst", pixfmt.RGBA8, 8, 8)
	if err := f.Render(devs, dev, dst, src, dst.Rect()); err != nil {
		t.Fatal(err)
	}
	f.ReleaseCache()
	if f.tile != nil || f.lut != nil {
		t.Fatal("expected ReleaseCache to drop both tile and LUT")
	}
}

func TestToPresetFromPresetRoundTrip(t *testing.T) {
	f := New("Grain")
	f.SetParams(Params{BlurRadius: 1.5, Curve: []curves.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}, Mono: true, Seed: 7})
	p := f.ToPreset()

	g := New("Other")
	if !g.FromPreset(p) {
		t.Fatal("FromPreset failed")
	}
	if g.params.BlurRadius != 1.5 {
		t.Fatalf("unexpected radius: %v", g.params.BlurRadius)
	}
}
