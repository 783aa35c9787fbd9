package scheduler

import (
	"context"
	"image"
	"testing"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/filter/bwmixer"
	"github.com/grayforge/engine/internal/filter/curves"
	"github.com/grayforge/engine/internal/filter/sharpen"
	"github.com/grayforge/engine/internal/filter/vignette"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
	"github.com/grayforge/engine/internal/preset"
)

// The six concrete end-to-end scenarios of spec.md §8. The five render
// scenarios go through a full scheduler.Render call rather than a bare
// filter.Render, matching the other tests in this package; the preset
// round trip exercises only the parser and printer.

func TestScenarioGreyMixerIdentity(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGB8, 4, 4)
	if err := src.Fill(devs, backend.CPU, src.Rect(), pixfmt.Pixel{N: 3, V: [4]float32{120, 60, 30}}); err != nil {
		t.Fatal(err)
	}
	out := layer.New("out", pixfmt.RGB8, 4, 4)

	mixer := bwmixer.New("grey")
	c, err := preset.Parse(`bwmixer=highlights(85, 85, 85), shadows(85, 85, 85), weight(50)`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !mixer.FromPreset(c.All()[0]) {
		t.Fatal("expected the parsed preset to apply to the mixer")
	}

	s := New()
	req := Request{
		Source: src, Rect: src.Rect(), Target: Final, Output: out,
		Graph: []GraphEntry{{Filter: mixer, Enabled: true}},
	}
	if _, err := s.Render(context.Background(), devs, dev, req); err != nil {
		t.Fatal(err)
	}

	buf := kernel.NewBuffer(pixfmt.RGB8, 4, 4)
	if err := out.Retrieve(devs, buf, out.Rect()); err != nil {
		t.Fatal(err)
	}
	p := buf.At(0, 0)
	for i := 0; i < 3; i++ {
		if !closeEnough(p.V[i], 70) {
			t.Fatalf("expected (70,70,70), got %+v", p)
		}
	}
}

func TestScenarioCurvesIdentity(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.Mono8, 4, 4)
	if err := src.Fill(devs, backend.CPU, src.Rect(), pixfmt.Pixel{N: 1, V: [4]float32{173}}); err != nil {
		t.Fatal(err)
	}
	out := layer.New("out", pixfmt.Mono8, 4, 4)

	curve := curves.New("identity", 256)
	curve.SetParams(curves.Params{ControlPoints: []curves.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}})

	s := New()
	req := Request{
		Source: src, Rect: src.Rect(), Target: Final, Output: out,
		Graph: []GraphEntry{{Filter: curve, Enabled: true}},
	}
	if _, err := s.Render(context.Background(), devs, dev, req); err != nil {
		t.Fatal(err)
	}

	srcBuf := kernel.NewBuffer(pixfmt.Mono8, 4, 4)
	src.Retrieve(devs, srcBuf, src.Rect())
	outBuf := kernel.NewBuffer(pixfmt.Mono8, 4, 4)
	out.Retrieve(devs, outBuf, out.Rect())
	if !kernel.Equal(srcBuf, outBuf) {
		t.Fatal("expected an identity curve to reproduce the input byte-for-byte")
	}
}

func TestScenarioNegateViaCurve(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	vals := []float32{0, 64, 128, 192, 255}
	src := layer.New("src", pixfmt.Mono8, len(vals), 1)
	buf := kernel.NewBuffer(pixfmt.Mono8, len(vals), 1)
	for i, v := range vals {
		buf.Set(i, 0, pixfmt.Pixel{N: 1, V: [4]float32{v}})
	}
	if err := src.WriteBuffer(devs, buf, image.Pt(0, 0)); err != nil {
		t.Fatal(err)
	}
	out := layer.New("out", pixfmt.Mono8, len(vals), 1)

	curve := curves.New("negate", 256)
	curve.SetParams(curves.Params{ControlPoints: []curves.Point{{X: 0, Y: 1}, {X: 1, Y: 0}}})

	s := New()
	req := Request{
		Source: src, Rect: src.Rect(), Target: Final, Output: out,
		Graph: []GraphEntry{{Filter: curve, Enabled: true}},
	}
	if _, err := s.Render(context.Background(), devs, dev, req); err != nil {
		t.Fatal(err)
	}

	outBuf := kernel.NewBuffer(pixfmt.Mono8, len(vals), 1)
	out.Retrieve(devs, outBuf, out.Rect())
	want := []float32{255, 191, 127, 63, 0}
	for i, w := range want {
		p := outBuf.At(i, 0)
		if !closeEnough(p.V[0], w) {
			t.Fatalf("pixel %d: expected %v, got %v", i, w, p.V[0])
		}
	}
}

func TestScenarioSharpenZeroStrength(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGB16, 8, 8)
	if err := src.Fill(devs, backend.CPU, src.Rect(), pixfmt.Pixel{N: 3, V: [4]float32{1000, 2000, 3000}}); err != nil {
		t.Fatal(err)
	}
	out := layer.New("out", pixfmt.RGB16, 8, 8)

	sh := sharpen.New("flat")
	sh.SetParams(sharpen.Params{
		Cascades: []sharpen.Cascade{
			{BlurRadius: 0.7, Strength: 0},
			{BlurRadius: 1.4, Strength: 0},
			{BlurRadius: 2.8, Strength: 0},
			{BlurRadius: 5.6, Strength: 0},
		},
		Threshold: 0,
	})

	s := New()
	req := Request{
		Source: src, Rect: src.Rect(), Target: Final, Output: out,
		Graph: []GraphEntry{{Filter: sh, Enabled: true}},
	}
	if _, err := s.Render(context.Background(), devs, dev, req); err != nil {
		t.Fatal(err)
	}

	srcBuf := kernel.NewBuffer(pixfmt.RGB16, 8, 8)
	src.Retrieve(devs, srcBuf, src.Rect())
	outBuf := kernel.NewBuffer(pixfmt.RGB16, 8, 8)
	out.Retrieve(devs, outBuf, out.Rect())
	if !kernel.Equal(srcBuf, outBuf) {
		t.Fatal("expected zero-strength cascades to leave the image untouched")
	}
}

func TestScenarioVignetteCenterUntouched(t *testing.T) {
	devs := testDevices()
	dev := devs[backend.CPU]
	src := layer.New("src", pixfmt.RGBA8, 512, 512)
	if err := src.Fill(devs, backend.CPU, src.Rect(), pixfmt.Pixel{N: 4, V: [4]float32{128, 128, 128, 255}}); err != nil {
		t.Fatal(err)
	}
	out := layer.New("out", pixfmt.RGBA8, 512, 512)

	v := vignette.New("center")
	v.SetParams(vignette.Params{CenterX: 0.5, CenterY: 0.5, Radius: 0.25, Strength: 0.5})

	s := New()
	req := Request{
		Source: src, Rect: src.Rect(), Target: Final, Output: out,
		Graph: []GraphEntry{{Filter: v, Enabled: true}},
	}
	if _, err := s.Render(context.Background(), devs, dev, req); err != nil {
		t.Fatal(err)
	}

	outBuf := kernel.NewBuffer(pixfmt.RGBA8, 512, 512)
	out.Retrieve(devs, outBuf, out.Rect())

	center := outBuf.At(256, 256)
	if !closeEnough(center.V[0], 128) {
		t.Fatalf("expected the center pixel unchanged within ±1, got %+v", center)
	}
	corner := outBuf.At(0, 0)
	if corner.V[0] > 128*0.8 {
		t.Fatalf("expected the corner pixel darker by at least 20%%, got %+v", corner)
	}
}

func TestScenarioPresetRoundTrip(t *testing.T) {
	src := `bwmixer=name("Neutral"),highlights(128,128,128),shadows(64,64,64),weight(60)`
	c1, err := preset.Parse(src, nil)
	if err != nil {
		t.Fatal(err)
	}
	printed1 := preset.Print(c1)
	c2, err := preset.Parse(printed1, nil)
	if err != nil {
		t.Fatalf("re-parsing printed output failed: %v\nprinted: %s", err, printed1)
	}
	if !c1.All()[0].Equal(c2.All()[0]) {
		t.Fatalf("round trip mismatch:\nsrc: %+v\nreparsed: %+v", c1.All()[0], c2.All()[0])
	}
	printed2 := preset.Print(c2)
	if printed1 != printed2 {
		t.Fatalf("expected the second printed form to be byte-equal to the first:\n%q\n%q", printed1, printed2)
	}
}

func closeEnough(a, b float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1
}
