package nifti

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the fixed size of a NIfTI-1 header.
const HeaderSize = 348

// singleFileOffset is where voxel data starts in files this package writes:
// the header plus an empty four-byte extension block.
const singleFileOffset = HeaderSize + 4

const (
	offDim       = 40
	offDatatype  = 70
	offBitpix    = 72
	offPixdim    = 76
	offVoxOffset = 108
	offSclSlope  = 112
	offSclInter  = 116
	offQformCode = 252
	offSformCode = 254
	offQuaternB  = 256
	offQoffsetX  = 268
	offSrowX     = 280
	offMagic     = 344
)

// Datatype codes defined by NIfTI-1.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
	DTInt64   int16 = 1024
	DTUint64  int16 = 1280
)

var bytesPerVoxel = map[int16]int{
	DTUint8: 1, DTInt8: 1,
	DTInt16: 2, DTUint16: 2,
	DTInt32: 4, DTUint32: 4, DTFloat32: 4,
	DTInt64: 8, DTUint64: 8, DTFloat64: 8,
}

// MaxVoxels bounds the voxel count a header may describe. Decoded volumes
// hold one float64 per voxel, so this caps a single volume at 2 GiB.
const MaxVoxels = 1 << 28

var errNotNIfTI = errors.New("not a NIfTI-1 file")

// Header is a decoded NIfTI-1 header. The raw bytes are kept so fields this
// package does not interpret survive a rewrite unchanged.
type Header struct {
	raw   [HeaderSize]byte
	order binary.ByteOrder
}

// ParseHeader decodes a NIfTI-1 header in either byte order.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: header is %d bytes", errNotNIfTI, len(b))
	}
	h := &Header{}
	copy(h.raw[:], b[:HeaderSize])
	switch {
	case binary.LittleEndian.Uint32(b) == HeaderSize:
		h.order = binary.LittleEndian
	case binary.BigEndian.Uint32(b) == HeaderSize:
		h.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad sizeof_hdr", errNotNIfTI)
	}
	magic := string(h.raw[offMagic : offMagic+3])
	if magic != "n+1" {
		return nil, fmt.Errorf("%w: magic %q is not a single-file NIfTI-1", errNotNIfTI, magic)
	}
	if h.Datatype() == 0 || bytesPerVoxel[h.Datatype()] == 0 {
		return nil, fmt.Errorf("unsupported NIfTI datatype %d", h.Datatype())
	}
	if nd := h.i16(offDim); nd < 1 || nd > 7 {
		return nil, fmt.Errorf("invalid NIfTI dimension count %d", nd)
	}
	if _, err := voxelCount(h.Dims()); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Header) i16(off int) int16 { return int16(h.order.Uint16(h.raw[off:])) }

func (h *Header) f32(off int) float64 {
	return float64(math.Float32frombits(h.order.Uint32(h.raw[off:])))
}

func (h *Header) putI16(off int, v int16) { h.order.PutUint16(h.raw[off:], uint16(v)) }

func (h *Header) putF32(off int, v float32) { h.order.PutUint32(h.raw[off:], math.Float32bits(v)) }

// ByteOrder reports the byte order the header was stored in.
func (h *Header) ByteOrder() binary.ByteOrder { return h.order }

// Datatype returns the NIfTI datatype code.
func (h *Header) Datatype() int16 { return h.i16(offDatatype) }

// Dims returns the extent of each used dimension.
func (h *Header) Dims() []int {
	n := int(h.i16(offDim))
	dims := make([]int, n)
	for i := range n {
		d := int(h.i16(offDim + 2*(i+1)))
		if d < 1 {
			d = 1
		}
		dims[i] = d
	}
	return dims
}

// Voxels is the number of voxels the header describes. Headers from
// ParseHeader and NewHeader are known to stay within MaxVoxels.
func (h *Header) Voxels() int {
	n, _ := voxelCount(h.Dims())
	return n
}

// voxelCount multiplies dims, failing once the product passes MaxVoxels.
// Every dim is at least 1, so checking after each step cannot overflow.
func voxelCount(dims []int) (int, error) {
	n := 1
	for _, d := range dims {
		if d > MaxVoxels/n {
			return 0, fmt.Errorf("nifti: dimensions %v exceed %d voxels", dims, MaxVoxels)
		}
		n *= d
	}
	return n, nil
}

// VoxOffset is the byte offset of voxel data within the file.
func (h *Header) VoxOffset() int64 {
	off := int64(h.f32(offVoxOffset))
	if off < HeaderSize {
		return HeaderSize
	}
	return off
}

// Scaling returns scl_slope and scl_inter; an identity pair when unset.
func (h *Header) Scaling() (slope, inter float64) {
	slope = h.f32(offSclSlope)
	inter = h.f32(offSclInter)
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 1, 0
	}
	if math.IsNaN(inter) || math.IsInf(inter, 0) {
		inter = 0
	}
	return slope, inter
}

// Affine returns the voxel-to-world transform, preferring sform, then qform,
// then a scaling-only matrix from pixdim.
func (h *Header) Affine() [4][4]float64 {
	var a [4][4]float64
	a[3][3] = 1
	switch {
	case h.i16(offSformCode) > 0:
		for r := range 3 {
			for c := range 4 {
				a[r][c] = h.f32(offSrowX + 16*r + 4*c)
			}
		}
	case h.i16(offQformCode) > 0:
		b, c, d := h.f32(offQuaternB), h.f32(offQuaternB+4), h.f32(offQuaternB+8)
		sq := 1 - (b*b + c*c + d*d)
		var qa float64
		if sq < 1e-7 {
			n := math.Sqrt(b*b + c*c + d*d)
			b, c, d = b/n, c/n, d/n
		} else {
			qa = math.Sqrt(sq)
		}
		qfac := h.f32(offPixdim)
		if qfac >= 0 {
			qfac = 1
		} else {
			qfac = -1
		}
		dx, dy, dz := h.f32(offPixdim+4), h.f32(offPixdim+8), h.f32(offPixdim+12)*qfac
		rot := [3][3]float64{
			{qa*qa + b*b - c*c - d*d, 2 * (b*c - qa*d), 2 * (b*d + qa*c)},
			{2 * (b*c + qa*d), qa*qa + c*c - b*b - d*d, 2 * (c*d - qa*b)},
			{2 * (b*d - qa*c), 2 * (c*d + qa*b), qa*qa + d*d - c*c - b*b},
		}
		scale := [3]float64{dx, dy, dz}
		for r := range 3 {
			for col := range 3 {
				a[r][col] = rot[r][col] * scale[col]
			}
			a[r][3] = h.f32(offQoffsetX + 4*r)
		}
	default:
		for i := range 3 {
			a[i][i] = h.f32(offPixdim + 4*(i+1))
		}
	}
	return a
}

// maskHeader derives the header for a uint8 mask that shares h's geometry.
func (h *Header) maskHeader() *Header {
	out := &Header{raw: h.raw, order: h.order}
	out.putI16(offDatatype, DTUint8)
	out.putI16(offBitpix, 8)
	out.putF32(offVoxOffset, singleFileOffset)
	out.putF32(offSclSlope, 1)
	out.putF32(offSclInter, 0)
	copy(out.raw[offMagic:], "n+1\x00")
	return out
}

// NewHeader builds a little-endian float32 header with the given dimensions
// and an sform affine. Column norms of the affine become the voxel sizes.
func NewHeader(dims []int, affine [4][4]float64) (*Header, error) {
	if len(dims) < 1 || len(dims) > 7 {
		return nil, fmt.Errorf("nifti: %d dimensions not supported", len(dims))
	}
	h := &Header{order: binary.LittleEndian}
	h.order.PutUint32(h.raw[0:], HeaderSize)
	h.putI16(offDim, int16(len(dims)))
	for i, d := range dims {
		if d < 1 || d > math.MaxInt16 {
			return nil, fmt.Errorf("nifti: dimension %d out of range", d)
		}
		h.putI16(offDim+2*(i+1), int16(d))
	}
	for i := len(dims) + 1; i < 8; i++ {
		h.putI16(offDim+2*i, 1)
	}
	if _, err := voxelCount(dims); err != nil {
		return nil, err
	}
	h.putI16(offDatatype, DTFloat32)
	h.putI16(offBitpix, 32)
	h.putF32(offPixdim, 1)
	for c := range 3 {
		norm := math.Sqrt(affine[0][c]*affine[0][c] + affine[1][c]*affine[1][c] + affine[2][c]*affine[2][c])
		h.putF32(offPixdim+4*(c+1), float32(norm))
	}
	h.putF32(offVoxOffset, singleFileOffset)
	h.putF32(offSclSlope, 1)
	h.putI16(offSformCode, 1)
	for r := range 3 {
		for c := range 4 {
			h.putF32(offSrowX+16*r+4*c, float32(affine[r][c]))
		}
	}
	copy(h.raw[offMagic:], "n+1\x00")
	return h, nil
}
