package main

import (
	"testing"

	"github.com/grayforge/engine/internal/preset"
)

func TestOutputPathForSingleInputNoOutputFlag(t *testing.T) {
	got := outputPathFor("/tmp/photo.png", "", false)
	want := "/tmp/photo.out.png"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestOutputPathForMultipleInputsWithOutputDir(t *testing.T) {
	got := outputPathFor("/tmp/a/photo.png", "/tmp/out", true)
	want := "/tmp/out/photo.out.png"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestOutputPathForSingleInputExplicitOutput(t *testing.T) {
	got := outputPathFor("/tmp/a/photo.png", "/tmp/result.png", false)
	want := "/tmp/result.png"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPresetNameForFindsFirstMatchingFilter(t *testing.T) {
	c := preset.NewCollection()
	c.Add(preset.New("curves", "Linear", "Tone"))
	c.Add(preset.New("bwmixer", "Neutral Grey", "Black & White"))

	if got := presetNameFor(c, "bwmixer"); got != "Neutral Grey" {
		t.Fatalf("got %q, want %q", got, "Neutral Grey")
	}
	if got := presetNameFor(c, "vignette"); got != "" {
		t.Fatalf("expected no match, got %q", got)
	}
}
