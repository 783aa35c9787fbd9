package sharpen

import (
	"image"
	"testing"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/backend/cpu"
	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
)

func testDevices() filter.Devices {
	return filter.Devices{backend.CPU: cpu.New(2)}
}

func checkerboard(t *testing.T, devs filter.Devices, l *layer.Layer) {
	t.Helper()
	buf := kernel.NewBuffer(l.Format(), l.Width(), l.Height())
	for y := 0; y < l.Height(); y++ {
		for x := 0; x < l.Width(); x++ {
			v := float32(0)
			if (x+y)%2 == 0 {
				v = 255
			}
			buf.Set(x, y, pixfmt.Pixel{N: 4, V: [4]float32{v, v, v, 255}})
		}
	}
	if err := l.WriteBuffer(devs, buf, image.Point{}); err != nil {
		t.Fatal(err)
	}
}

func TestRenderProducesDifferentOutputThanSource(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 16, 16)
	checkerboard(t, devs, src)
	dst := layer.New("dst", pixfmt.RGBA8, 16, 16)

	f := New("Sharpen")
	if err := f.Render(devs, dev, dst, src, dst.Rect()); err != nil {
		t.Fatal(err)
	}

	srcBuf := kernel.NewBuffer(pixfmt.RGBA8, 16, 16)
	if err := src.Retrieve(devs, srcBuf, src.Rect()); err != nil {
		t.Fatal(err)
	}
	dstBuf := kernel.NewBuffer(pixfmt.RGBA8, 16, 16)
	if err := dst.Retrieve(devs, dstBuf, dst.Rect()); err != nil {
		t.Fatal(err)
	}
	if kernel.Equal(srcBuf, dstBuf) {
		t.Fatal("expected sharpen to change pixel content of a non-flat source")
	}
}

func TestRenderIsIdentityOnFlatSource(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 16, 16)
	if err := src.Fill(devs, backend.CPU, src.Rect(), pixfmt.Pixel{N: 4, V: [4]float32{100, 100, 100, 255}}); err != nil {
		t.Fatal(err)
	}
	dst := layer.New("dst", pixfmt.RGBA8, 16, 16)

	f := New("Sharpen")
	if err := f.Render(devs, dev, dst, src, dst.Rect()); err != nil {
		t.Fatal(err)
	}

	srcBuf := kernel.NewBuffer(pixfmt.RGBA8, 16, 16)
	src.Retrieve(devs, srcBuf, src.Rect())
	dstBuf := kernel.NewBuffer(pixfmt.RGBA8, 16, 16)
	dst.Retrieve(devs, dstBuf, dst.Rect())
	if !kernel.Equal(srcBuf, dstBuf) {
		t.Fatal("expected a flat source to be unchanged by the sharpen kernel")
	}
}

func TestBlurCacheReusedAcrossRenders(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 16, 16)
	checkerboard(t, devs, src)
	dst := layer.New("dst", pixfmt.RGBA8, 16, 16)

	f := New("Sharpen")
	if err := f.Render(devs, dev, dst, src, dst.Rect()); err != nil {
		t.Fatal(err)
	}
	first := f.cache
	if err := f.Render(devs, dev, dst, src, dst.Rect()); err != nil {
		t.Fatal(err)
	}
	if len(f.cache) != len(first) {
		t.Fatal("expected cache slots to be reused, not reallocated")
	}
	for i := range first {
		if first[i].buf != f.cache[i].buf {
			t.Fatalf("cascade %d blur buffer was rebuilt instead of reused", i)
		}
	}
}

func TestSetParamsReleasesCache(t *testing.T) {
	f := New("Sharpen")
	f.cache = []blurCache{{buf: kernel.NewBuffer(pixfmt.RGBA8, 1, 1)}}
	f.SetParams(DefaultParams())
	if f.cache != nil {
		t.Fatal("expected SetParams to release the blur cache")
	}
}

func TestToPresetFromPresetRoundTrip(t *testing.T) {
	f := New("Sharpen")
	f.SetParams(Params{
		Cascades:  []Cascade{{BlurRadius: 0.5, Strength: 0.5}, {BlurRadius: 2, Strength: 0.2}},
		Threshold: 3,
	})
	p := f.ToPreset()

	g := New("Other")
	if !g.FromPreset(p) {
		t.Fatal("FromPreset failed")
	}
	if len(g.params.Cascades) != 2 || g.params.Cascades[0].BlurRadius != 0.5 || g.params.Cascades[1].BlurRadius != 2 {
		t.Fatalf("unexpected cascades after round trip: %+v", g.params.Cascades)
	}
	if g.params.Threshold != 3 {
		t.Fatalf("unexpected threshold: %v", g.params.Threshold)
	}
}
