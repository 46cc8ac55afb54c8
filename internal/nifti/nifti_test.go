package nifti

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/gzip"
)

var testAffine = [4][4]float64{
	{-2, 0, 0, 10},
	{0, 2, 0, -20},
	{0, 0, 3, 30},
	{0, 0, 0, 1},
}

func TestWriteMaskRoundTripGzip(t *testing.T) {
	h, err := NewHeader([]int{2, 3, 2}, testAffine)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	path := filepath.Join(t.TempDir(), "mask.nii.gz")
	mask := []uint8{0, 1, 1, 0, 0, 1, 1, 1, 0, 0, 0, 1}
	if err := WriteMask(path, h, mask); err != nil {
		t.Fatalf("write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if raw[0] != 0x1f || raw[1] != 0x8b {
		t.Fatalf("expected gzip stream")
	}

	vol, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if vol.Header.Datatype() != DTUint8 {
		t.Fatalf("datatype = %d", vol.Header.Datatype())
	}
	if !reflect.DeepEqual(vol.Header.Dims(), []int{2, 3, 2}) {
		t.Fatalf("dims = %v", vol.Header.Dims())
	}
	if vol.Header.Affine() != testAffine {
		t.Fatalf("affine = %v", vol.Header.Affine())
	}
	for i, v := range vol.Data {
		if v != float64(mask[i]) {
			t.Fatalf("voxel %d = %v, want %d", i, v, mask[i])
		}
	}
}

func TestWriteMaskRefusesExistingFileAndWrongLength(t *testing.T) {
	h, _ := NewHeader([]int{2, 2}, testAffine)
	dir := t.TempDir()
	path := filepath.Join(dir, "m.nii")
	if err := WriteMask(path, h, []uint8{1, 2, 3}); err == nil {
		t.Fatal("expected length error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("failed write should not leave a file: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteMask(path, h, []uint8{0, 0, 0, 0}); err == nil {
		t.Fatal("expected error for existing destination")
	}
	if data, _ := os.ReadFile(path); string(data) != "x" {
		t.Fatalf("existing file modified: %q", data)
	}
}

func rawVolume(t *testing.T, order binary.ByteOrder, datatype int16, voxels []byte, slope, inter float32) []byte {
	t.Helper()
	h, err := NewHeader([]int{len(voxels) / bytesPerVoxel[datatype]}, testAffine)
	if err != nil {
		t.Fatal(err)
	}
	h.putI16(offDatatype, datatype)
	h.putF32(offSclSlope, slope)
	h.putF32(offSclInter, inter)
	if order == binary.BigEndian {
		// Re-encode every field this test depends on.
		be := &Header{order: binary.BigEndian}
		copy(be.raw[offMagic:], "n+1\x00")
		be.order.PutUint32(be.raw[0:], HeaderSize)
		be.putI16(offDim, 1)
		be.putI16(offDim+2, int16(len(voxels)/bytesPerVoxel[datatype]))
		be.putI16(offDatatype, datatype)
		be.putF32(offVoxOffset, singleFileOffset)
		be.putF32(offSclSlope, slope)
		be.putF32(offSclInter, inter)
		h = be
	}
	var buf bytes.Buffer
	buf.Write(h.raw[:])
	buf.Write(make([]byte, 4))
	buf.Write(voxels)
	return buf.Bytes()
}

func TestReadDatatypesAndScaling(t *testing.T) {
	le := binary.LittleEndian
	be := binary.BigEndian

	i16 := make([]byte, 4)
	le.PutUint16(i16[0:], uint16(0xFFFF)) // -1
	le.PutUint16(i16[2:], 7)

	f32be := make([]byte, 8)
	be.PutUint32(f32be[0:], math.Float32bits(0.25))
	be.PutUint32(f32be[4:], math.Float32bits(-1.5))

	tests := []struct {
		name  string
		data  []byte
		want  []float64
	}{
		{"uint8", rawVolume(t, le, DTUint8, []byte{0, 1, 255}, 1, 0), []float64{0, 1, 255}},
		{"int8", rawVolume(t, le, DTInt8, []byte{0xFF, 2}, 0, 0), []float64{-1, 2}},
		{"int16 scaled", rawVolume(t, le, DTInt16, i16, 2, 1), []float64{-1, 15}},
		{"float32 big endian", rawVolume(t, be, DTFloat32, f32be, 1, 0), []float64{0.25, -1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "v.nii")
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}
			vol, err := Read(path)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !reflect.DeepEqual(vol.Data, tt.want) {
				t.Fatalf("data = %v, want %v", vol.Data, tt.want)
			}
		})
	}
}

func TestReadDetectsGzipByContent(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(rawVolume(t, binary.LittleEndian, DTUint8, []byte{1, 0}, 1, 0)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "v.nii")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	vol, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(vol.Data, []float64{1, 0}) {
		t.Fatalf("data = %v", vol.Data)
	}
}

func TestReadRejectsGarbageAndTruncation(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "g.nii")
	if err := os.WriteFile(garbage, bytes.Repeat([]byte{7}, 400), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(garbage); err == nil {
		t.Fatal("expected error for garbage input")
	}

	full := rawVolume(t, binary.LittleEndian, DTUint8, []byte{1, 2, 3, 4}, 1, 0)
	short := filepath.Join(dir, "s.nii")
	if err := os.WriteFile(short, full[:len(full)-2], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(short); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestAffineFallsBackToPixdim(t *testing.T) {
	h, _ := NewHeader([]int{1, 1, 1}, testAffine)
	h.putI16(offSformCode, 0)
	h.putI16(offQformCode, 0)
	got := h.Affine()
	if got[0][0] != 2 || got[1][1] != 2 || got[2][2] != 3 || got[0][3] != 0 {
		t.Fatalf("affine = %v", got)
	}

	h.putI16(offQformCode, 1)
	// Identity quaternion with offsets.
	h.putF32(offQoffsetX, 5)
	h.putF32(offQoffsetX+4, 6)
	h.putF32(offQoffsetX+8, 7)
	got = h.Affine()
	if got[0][0] != 2 || got[2][2] != 3 || got[0][3] != 5 || got[2][3] != 7 {
		t.Fatalf("qform affine = %v", got)
	}
}

func TestReadRejectsOversizedDimensions(t *testing.T) {
	h, err := NewHeader([]int{4}, testAffine)
	if err != nil {
		t.Fatal(err)
	}
	h.putI16(offDatatype, DTFloat64)
	h.putI16(offDim, 7)
	for i := 1; i <= 7; i++ {
		h.putI16(offDim+2*i, math.MaxInt16)
	}
	var buf bytes.Buffer
	buf.Write(h.raw[:])
	buf.Write(make([]byte, 4+64))

	path := filepath.Join(t.TempDir(), "corrupt.nii")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("expected an error for dimensions past MaxVoxels")
	}
}

func TestNewHeaderRejectsOversizedDimensions(t *testing.T) {
	if _, err := NewHeader([]int{math.MaxInt16, math.MaxInt16, math.MaxInt16}, testAffine); err == nil {
		t.Fatal("expected an error for dimensions past MaxVoxels")
	}
	if _, err := NewHeader([]int{512, 512, 512}, testAffine); err != nil {
		t.Fatalf("512^3 should be accepted: %v", err)
	}
}
