package layer

import (
	"image"
	"testing"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/backend/cpu"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/pixfmt"
)

func testDevices(t *testing.T) devices {
	t.Helper()
	return devices{backend.CPU: cpu.New(2)}
}

func TestUpdateDataForBackendAllocatesAndCleans(t *testing.T) {
	devs := testDevices(t)
	l := New("src", pixfmt.RGBA8, 8, 8)
	if l.HasClean() {
		t.Fatal("fresh layer should have no clean realization")
	}
	if err := l.UpdateDataForBackend(devs, backend.CPU); err != nil {
		t.Fatal(err)
	}
	if l.IsDirty(backend.CPU) {
		t.Fatal("expected CPU realization to be clean after UpdateDataForBackend")
	}
	if err := l.UpdateDataForBackend(devs, backend.CPU); err != nil {
		t.Fatalf("UpdateDataForBackend should be idempotent: %v", err)
	}
}

func TestFillMarksOtherBackendsDirty(t *testing.T) {
	devs := testDevices(t)
	l := New("l", pixfmt.Mono8, 4, 4)
	if err := l.Fill(devs, backend.CPU, l.Rect(), pixfmt.NewPixel(42)); err != nil {
		t.Fatal(err)
	}
	if l.IsDirty(backend.CPU) {
		t.Fatal("fill target should be clean")
	}

	buf := kernel.NewBuffer(pixfmt.Mono8, 4, 4)
	if err := l.Retrieve(devs, buf, l.Rect()); err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if buf.At(x, y).V[0] != 42 {
				t.Fatalf("expected fill value 42 at (%d,%d), got %v", x, y, buf.At(x, y))
			}
		}
	}
}

func TestRetrieveSynchronizesFromClean(t *testing.T) {
	devs := testDevices(t)
	l := New("l", pixfmt.Mono8, 4, 4)
	if err := l.Fill(devs, backend.CPU, l.Rect(), pixfmt.NewPixel(7)); err != nil {
		t.Fatal(err)
	}
	buf := kernel.NewBuffer(pixfmt.Mono8, 2, 2)
	if err := l.Retrieve(devs, buf, image.Rect(1, 1, 3, 3)); err != nil {
		t.Fatal(err)
	}
	if buf.At(0, 0).V[0] != 7 {
		t.Fatalf("expected retrieved value 7, got %v", buf.At(0, 0))
	}
}

func TestCopyBetweenLayers(t *testing.T) {
	devs := testDevices(t)
	src := New("src", pixfmt.Mono8, 4, 4)
	if err := src.Fill(devs, backend.CPU, src.Rect(), pixfmt.NewPixel(99)); err != nil {
		t.Fatal(err)
	}
	dst := New("dst", pixfmt.Mono8, 4, 4)
	if err := dst.Copy(devs, src, src.Rect(), image.Point{}); err != nil {
		t.Fatal(err)
	}
	buf := kernel.NewBuffer(pixfmt.Mono8, 4, 4)
	if err := dst.Retrieve(devs, buf, dst.Rect()); err != nil {
		t.Fatal(err)
	}
	if buf.At(2, 2).V[0] != 99 {
		t.Fatalf("expected copied value 99, got %v", buf.At(2, 2))
	}
}

func TestDeleteLastCleanRealizationFails(t *testing.T) {
	devs := testDevices(t)
	l := New("l", pixfmt.Mono8, 2, 2)
	if err := l.Fill(devs, backend.CPU, l.Rect(), pixfmt.NewPixel(1)); err != nil {
		t.Fatal(err)
	}
	if err := l.DeleteDataForBackend(devs, backend.CPU); err == nil {
		t.Fatal("expected deleting the only clean realization to fail")
	}
}

func TestDuplicateCopiesContent(t *testing.T) {
	devs := testDevices(t)
	l := New("l", pixfmt.Mono8, 3, 3)
	if err := l.Fill(devs, backend.CPU, l.Rect(), pixfmt.NewPixel(55)); err != nil {
		t.Fatal(err)
	}
	dup, err := l.Duplicate(devs)
	if err != nil {
		t.Fatal(err)
	}
	buf := kernel.NewBuffer(pixfmt.Mono8, 3, 3)
	if err := dup.Retrieve(devs, buf, dup.Rect()); err != nil {
		t.Fatal(err)
	}
	if buf.At(1, 1).V[0] != 55 {
		t.Fatalf("expected duplicated value 55, got %v", buf.At(1, 1))
	}
}

func TestSetMaskRejectsMismatchedSize(t *testing.T) {
	l := New("l", pixfmt.RGBA8, 8, 8)
	badMask := New("mask", pixfmt.Mono8, 4, 4)
	if err := l.SetMask(badMask, MaskMultiply); err == nil {
		t.Fatal("expected mismatched mask size to fail")
	}
	goodMask := New("mask", pixfmt.Mono8, 8, 8)
	if err := l.SetMask(goodMask, MaskMultiply); err != nil {
		t.Fatal(err)
	}
	m, mode := l.Mask()
	if m != goodMask || mode != MaskMultiply {
		t.Fatal("mask not stored correctly")
	}
}

func TestStackAppendMoveSwapClone(t *testing.T) {
	devs := testDevices(t)
	s := NewStack()
	l1 := New("one", pixfmt.Mono8, 2, 2)
	l2 := New("two", pixfmt.Mono8, 2, 2)
	s.AppendLayer(l1)
	s.AppendLayer(l2)
	if s.Len() != 2 {
		t.Fatalf("expected 2 layers, got %d", s.Len())
	}
	if s.Source() != l1 || s.Top() != l2 {
		t.Fatal("source/top mismatch")
	}
	if !s.SwapLayers(0, 1) {
		t.Fatal("swap failed")
	}
	if s.At(0) != l2 {
		t.Fatal("swap did not exchange layers")
	}

	if err := l2.Fill(devs, backend.CPU, l2.Rect(), pixfmt.NewPixel(3)); err != nil {
		t.Fatal(err)
	}
	cloned, err := s.CloneTop(devs)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 3 {
		t.Fatal("expected clone to append a layer")
	}
	if cloned == s.At(0) {
		t.Fatal("clone should be a distinct layer instance")
	}
}

func TestStackRemoveAndMove(t *testing.T) {
	s := NewStack()
	a, b, c := New("a", pixfmt.Mono8, 1, 1), New("b", pixfmt.Mono8, 1, 1), New("c", pixfmt.Mono8, 1, 1)
	s.AppendLayer(a)
	s.AppendLayer(b)
	s.AppendLayer(c)

	if !s.MoveLayer(0, 2) {
		t.Fatal("move failed")
	}
	if s.At(2) != a {
		t.Fatal("expected a to move to the end")
	}

	if !s.RemoveLayer(0) {
		t.Fatal("remove failed")
	}
	if s.Len() != 2 {
		t.Fatal("expected 2 layers after remove")
	}
}
