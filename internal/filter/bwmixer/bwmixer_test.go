package bwmixer

import (
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

func TestDefaultWeightsDesaturate(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 2, 2)
	if err := src.Fill(devs, backend.CPU, src.Rect(), pixfmt.Pixel{N: 4, V: [4]float32{200, 80, 30, 255}}); err != nil {
		t.Fatal(err)
	}
	dst := layer.New("dst", pixfmt.RGBA8, 2, 2)

	f := New("mono")
	if err := f.Render(devs, dev, dst, src, dst.Rect()); err != nil {
		t.Fatal(err)
	}

	buf := kernel.NewBuffer(pixfmt.RGBA8, 2, 2)
	if err := dst.Retrieve(devs, buf, dst.Rect()); err != nil {
		t.Fatal(err)
	}
	p := buf.At(0, 0)
	if p.V[0] != p.V[1] || p.V[1] != p.V[2] {
		t.Fatalf("expected a flat luma mix to equalize all three channels, got %+v", p)
	}
}

func TestAlphaIsPreserved(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 1, 1)
	if err := src.Fill(devs, backend.CPU, src.Rect(), pixfmt.Pixel{N: 4, V: [4]float32{10, 20, 30, 128}}); err != nil {
		t.Fatal(err)
	}
	dst := layer.New("dst", pixfmt.RGBA8, 1, 1)

	f := New("mono")
	if err := f.Render(devs, dev, dst, src, dst.Rect()); err != nil {
		t.Fatal(err)
	}

	buf := kernel.NewBuffer(pixfmt.RGBA8, 1, 1)
	if err := dst.Retrieve(devs, buf, dst.Rect()); err != nil {
		t.Fatal(err)
	}
	if buf.At(0, 0).V[3] != 128 {
		t.Fatalf("expected alpha to pass through unchanged, got %v", buf.At(0, 0).V[3])
	}
}

func TestFromPresetRejectsMismatchedKinds(t *testing.T) {
	f := New("mono")
	p := f.ToPreset()
	highlights, _ := p.Get("highlights")
	p.Set("balance", highlights) // a color where a float is expected
	if f.FromPreset(p) {
		t.Fatal("expected FromPreset to reject a balance value of the wrong kind")
	}
}

func TestToPresetFromPresetRoundTrip(t *testing.T) {
	f := New("mono")
	f.SetParams(Params{HighlightWeights: RGB{0.9, 0.05, 0.05}, ShadowWeights: RGB{0.2, 0.2, 0.2}, Balance: 0.1})
	p := f.ToPreset()

	f2 := New("reloaded")
	if !f2.FromPreset(p) {
		t.Fatal("expected FromPreset to accept ToPreset's own output")
	}
	if f2.Params() != f.Params() {
		t.Fatalf("got %+v, want %+v", f2.Params(), f.Params())
	}
}
