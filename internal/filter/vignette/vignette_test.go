package vignette

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

func flatLayer(t *testing.T, devs filter.Devices, l *layer.Layer, v float32) {
	t.Helper()
	if err := l.Fill(devs, backend.CPU, l.Rect(), pixfmt.Pixel{N: 4, V: [4]float32{v, v, v, 255}}); err != nil {
		t.Fatal(err)
	}
}

func TestCenterDarkensLessThanCorner(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 8, 8)
	flatLayer(t, devs, src, 200)
	dst := layer.New("dst", pixfmt.RGBA8, 8, 8)

	f := New("Vignette")
	f.SetParams(Params{CenterX: 0.5, CenterY: 0.5, Radius: 0.6, Strength: 0.8})
	if err := f.Render(devs, dev, dst, src, dst.Rect()); err != nil {
		t.Fatal(err)
	}

	out := kernel.NewBuffer(pixfmt.RGBA8, 8, 8)
	dst.Retrieve(devs, out, dst.Rect())
	center := out.At(4, 4)
	corner := out.At(0, 0)
	if corner.V[0] >= center.V[0] {
		t.Fatalf("expected the corner to be darker than the center: corner=%v center=%v", corner.V[0], center.V[0])
	}
}

func TestNegativeStrengthLightens(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 8, 8)
	flatLayer(t, devs, src, 100)
	dst := layer.New("dst", pixfmt.RGBA8, 8, 8)

	f := New("Vignette")
	f.SetParams(Params{CenterX: 0.5, CenterY: 0.5, Radius: 0.4, Strength: -0.6})
	if err := f.Render(devs, dev, dst, src, dst.Rect()); err != nil {
		t.Fatal(err)
	}

	out := kernel.NewBuffer(pixfmt.RGBA8, 8, 8)
	dst.Retrieve(devs, out, dst.Rect())
	corner := out.At(0, 0)
	if corner.V[0] <= 100 {
		t.Fatalf("expected negative strength to lighten the corner above the flat source value, got %v", corner.V[0])
	}
}

func TestToPresetFromPresetRoundTrip(t *testing.T) {
	f := New("V")
	f.SetParams(Params{CenterX: 0.3, CenterY: 0.7, Radius: 1.1, Strength: -0.25})
	p := f.ToPreset()

	g := New("Other")
	if !g.FromPreset(p) {
		t.Fatal("FromPreset failed")
	}
	if g.Params() != f.Params() {
		t.Fatalf("expected round trip to preserve params, got %+v", g.Params())
	}
}
