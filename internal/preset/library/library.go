// Package library embeds and loads the engine's built-in preset
// collection, generalizing the teacher's pattern of shipping small
// static config as a compiled-in asset (b/main.go's hardcoded
// NUM_WORKERS/TILE_SIZE defaults) into a proper embedded data file — the
// idiomatic Go way to ship a named preset library without a filesystem
// dependency at process start (spec.md §3's FilterPresetCollection,
// §5(d): "the preset library is immutable after load").
package library

import (
	_ "embed"

	"github.com/grayforge/engine/internal/preset"
)

//go:embed defaults.bs
var defaultsSource string

// Load parses the embedded default preset collection. It panics on
// error: the embedded asset is compiled into the binary and a parse
// failure there is a build-time defect, not a runtime condition callers
// can recover from.
func Load() *preset.Collection {
	c, err := preset.Parse(defaultsSource, nil)
	if err != nil {
		panic("library: embedded default presets failed to parse: " + err.Error())
	}
	return c
}
