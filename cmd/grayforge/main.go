// Command grayforge is a thin batch front end over the session package:
// decode each input PNG, apply a preset to every filter it names, render
// at full quality, and encode the result back to PNG. It is deliberately
// not the editor itself — just the external collaborator spec.md §6's
// API is meant to support, in the teacher's own cmd/processor style
// (flag-configured, one log line per stage, os.Exit(1) on failure).
package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/codec"
	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/preset"
	"github.com/grayforge/engine/internal/preset/library"
	"github.com/grayforge/engine/session"
)

// allKinds is every filter kind a batch run may apply a preset to, in the
// same order session.Create's default graph uses.
var allKinds = []filter.Kind{
	filter.BWMixer, filter.Curves, filter.CascadedSharpen,
	filter.FilmGrain, filter.SplitTone, filter.Vignette,
}

func main() {
	var (
		presetArg = flag.String("preset", "", "preset name from the built-in library, preset text, or a path to a .bs preset file")
		outputArg = flag.String("output", "", "output file (single input) or directory (multiple inputs); defaults to <input>.out.png")
	)
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		log.Fatalf("grayforge: no input files given")
	}
	if *presetArg == "" {
		log.Fatalf("grayforge: -preset is required")
	}

	collection, err := loadPresets(*presetArg)
	if err != nil {
		log.Fatalf("grayforge: %v", err)
	}

	for _, in := range files {
		out := outputPathFor(in, *outputArg, len(files) > 1)
		if err := process(in, out, collection); err != nil {
			log.Printf("grayforge: %s: %v", in, err)
			os.Exit(1)
		}
		log.Printf("grayforge: %s -> %s", in, out)
	}
}

// loadPresets resolves -preset's argument: a path to a preset file if it
// names one on disk; otherwise the embedded default library's presets
// whose name equals the argument (e.g. "Soft Contrast S-Curve"); otherwise
// the argument parsed as preset text, with bare preset references resolved
// against library.Load().
func loadPresets(arg string) (*preset.Collection, error) {
	if _, err := os.Stat(arg); err == nil {
		text, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("reading preset file: %w", err)
		}
		c, err := preset.Load(string(text))
		if err != nil {
			return nil, fmt.Errorf("parsing preset file: %w", err)
		}
		return c, nil
	}
	lib := library.Load()
	named := preset.NewCollection()
	for _, p := range lib.All() {
		if p.Name == arg {
			named.Add(p)
		}
	}
	if len(named.All()) > 0 {
		return named, nil
	}
	c, err := preset.Parse(arg, lib)
	if err != nil {
		return nil, fmt.Errorf("-preset %q is not a preset file, a library preset name or preset text: %w", arg, err)
	}
	return c, nil
}

func outputPathFor(in, outArg string, multiple bool) string {
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in)) + ".out.png"
	if outArg == "" {
		return filepath.Join(filepath.Dir(in), base)
	}
	if multiple {
		return filepath.Join(outArg, base)
	}
	return outArg
}

func process(inPath, outPath string, collection *preset.Collection) error {
	f, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	img, err := png.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decoding png: %w", err)
	}

	buf := codec.FromImage(img)
	src := layer.New("source", buf.Format, buf.Width, buf.Height)
	stack := layer.NewStack()
	stack.AppendLayer(src)

	sess, err := session.Create(stack, backend.Set{backend.CPU: true})
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer sess.Close()

	kb := &kernel.Buffer{Format: buf.Format, Width: buf.Width, Height: buf.Height, Stride: buf.Stride, Data: buf.Bytes}
	if err := src.WriteBuffer(sess.Devices(), kb, image.Point{}); err != nil {
		return fmt.Errorf("loading pixels: %w", err)
	}

	applied := 0
	for _, kind := range allKinds {
		p, ok := collection.Lookup(kind.String(), presetNameFor(collection, kind.String()))
		if !ok {
			continue
		}
		if err := sess.SetFilterParameters(kind, *p); err != nil {
			return fmt.Errorf("applying preset to %s: %w", kind, err)
		}
		sess.EnableFilter(kind, true)
		applied++
	}
	if applied == 0 {
		return fmt.Errorf("preset collection names no filter this engine recognizes")
	}

	id, err := sess.RequestRender(session.RenderRequest{Rect: src.Rect(), Target: session.Final})
	if err != nil {
		return fmt.Errorf("requesting render: %w", err)
	}
	if err := waitRender(sess, id); err != nil {
		return err
	}

	out, err := sess.Output(session.Final)
	if err != nil {
		return fmt.Errorf("fetching output: %w", err)
	}
	outBuf := kernel.NewBuffer(buf.Format, buf.Width, buf.Height)
	if err := out.Retrieve(sess.Devices(), outBuf, out.Rect()); err != nil {
		return fmt.Errorf("reading output: %w", err)
	}

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	w, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer w.Close()
	encoded := codec.Buffer{Format: buf.Format, Width: buf.Width, Height: buf.Height, Stride: buf.Stride, Bytes: outBuf.Data}
	return png.Encode(w, encoded.ToImage())
}

// presetNameFor picks the first preset this collection carries for a
// given filter name; a batch run applies whatever single preset per
// filter the collection contains rather than asking the caller to name
// each one individually.
func presetNameFor(c *preset.Collection, filterName string) string {
	for _, p := range c.All() {
		if p.FilterName == filterName {
			return p.Name
		}
	}
	return ""
}

func waitRender(sess *session.Session, id session.JobID) error {
	for {
		if _, err, ok := sess.Result(id); ok {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}
