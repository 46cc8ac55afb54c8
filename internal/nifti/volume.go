package nifti

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Volume is a decoded image. Data holds scaled voxel values in file order.
type Volume struct {
	Header *Header
	Data   []float64
}

var gzipMagic = []byte{0x1f, 0x8b}

// Read decodes a single-file NIfTI-1 image, gzip-compressed or raw.
func Read(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<20)
	var r io.Reader = br
	if peek, _ := br.Peek(2); bytes.Equal(peek, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	vol, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vol, nil
}

func decode(r io.Reader) (*Volume, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if skip := h.VoxOffset() - HeaderSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, fmt.Errorf("skip extensions: %w", err)
		}
	}

	n := h.Voxels()
	width := bytesPerVoxel[h.Datatype()]
	raw := make([]byte, n*width)
	if _, err := io.ReadFull(r, raw); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("truncated voxel data: want %d bytes", len(raw))
		}
		return nil, fmt.Errorf("read voxel data: %w", err)
	}

	data := make([]float64, n)
	order := h.order
	for i := range n {
		b := raw[i*width:]
		var v float64
		switch h.Datatype() {
		case DTUint8:
			v = float64(b[0])
		case DTInt8:
			v = float64(int8(b[0]))
		case DTInt16:
			v = float64(int16(order.Uint16(b)))
		case DTUint16:
			v = float64(order.Uint16(b))
		case DTInt32:
			v = float64(int32(order.Uint32(b)))
		case DTUint32:
			v = float64(order.Uint32(b))
		case DTInt64:
			v = float64(int64(order.Uint64(b)))
		case DTUint64:
			v = float64(order.Uint64(b))
		case DTFloat32:
			v = float64(math.Float32frombits(order.Uint32(b)))
		case DTFloat64:
			v = math.Float64frombits(order.Uint64(b))
		}
		data[i] = v
	}
	if slope, inter := h.Scaling(); slope != 1 || inter != 0 {
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}
	return &Volume{Header: h, Data: data}, nil
}

// WriteMask encodes mask as a uint8 image with the geometry of header. The
// file is gzip-compressed when path ends in .gz. A partially written file is
// removed on failure.
func WriteMask(path string, header *Header, mask []uint8) (err error) {
	if header == nil {
		return errors.New("nifti: nil header")
	}
	if want := header.Voxels(); len(mask) != want {
		return fmt.Errorf("nifti: mask has %d voxels, header describes %d", len(mask), want)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<20)
	var w io.Writer = bw
	var gz *gzip.Writer
	if strings.EqualFold(filepath.Ext(path), ".gz") {
		gz = gzip.NewWriter(bw)
		w = gz
	}
	if err := encodeMask(w, header.maskHeader(), mask); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func encodeMask(w io.Writer, h *Header, mask []uint8) error {
	if _, err := w.Write(h.raw[:]); err != nil {
		return err
	}
	if _, err := w.Write(make([]byte, singleFileOffset-HeaderSize)); err != nil {
		return err
	}
	_, err := w.Write(mask)
	return err
}
