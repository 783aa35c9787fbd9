package cpu

import (
	"image"
	"testing"

	"github.com/grayforge/engine/internal/pixfmt"
)

func TestAllocateAndFill(t *testing.T) {
	dev := New(4)
	img, err := dev.Allocate(pixfmt.RGBA8, 8, 8)
	if err != nil {
		t.Fatal(err)
	}
	want := pixfmt.NewPixel(10, 20, 30, 255)
	if err := dev.Fill(img, image.Rect(0, 0, 8, 8), want); err != nil {
		t.Fatal(err)
	}
	ci := img.(*Image)
	got := ci.buf.At(3, 3)
	if got.V[0] != want.V[0] || got.V[3] != want.V[3] {
		t.Errorf("Fill: got %+v, want %+v", got, want)
	}
}

func TestSlabPoolReusesBuffers(t *testing.T) {
	dev := New(2)
	img1, _ := dev.Allocate(pixfmt.Mono8, 16, 16)
	buf1 := img1.(*Image).buf
	dev.Deallocate(img1)

	img2, _ := dev.Allocate(pixfmt.Mono8, 16, 16)
	buf2 := img2.(*Image).buf
	if buf1 != buf2 {
		t.Error("expected slab pool to reuse the released buffer")
	}
}

func TestDispatchParallelTilesIdentity(t *testing.T) {
	dev := New(4)
	srcObj, _ := dev.Allocate(pixfmt.Mono8, 300, 300)
	dstObj, _ := dev.Allocate(pixfmt.Mono8, 300, 300)
	src := srcObj.(*Image).buf
	for y := 0; y < 300; y++ {
		for x := 0; x < 300; x++ {
			src.Set(x, y, pixfmt.NewPixel(float32((x*y)%256)))
		}
	}

	identity := func(v []float64, _ any) []float64 { return v }
	if err := dev.Dispatch(dstObj, srcObj, nil, src.Rect(), nil, false, identity); err != nil {
		t.Fatal(err)
	}

	dst := dstObj.(*Image).buf
	for y := 0; y < 300; y += 37 {
		for x := 0; x < 300; x += 37 {
			a, b := src.At(x, y), dst.At(x, y)
			if a.V[0] != b.V[0] {
				t.Fatalf("identity kernel mismatch at (%d,%d): %v vs %v", x, y, a, b)
			}
		}
	}
}

func TestReleaseUnusedDropsPool(t *testing.T) {
	dev := New(1)
	img, _ := dev.Allocate(pixfmt.Mono8, 4, 4)
	dev.Deallocate(img)
	if dev.slabs.freeBytes() == 0 {
		t.Fatal("expected a pooled slab before ReleaseUnused")
	}
	dev.ReleaseUnused()
	if dev.slabs.freeBytes() != 0 {
		t.Fatal("ReleaseUnused should drop pooled slabs")
	}
}
