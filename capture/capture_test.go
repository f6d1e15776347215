package capture

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pidisplay.dev/display"
	"pidisplay.dev/driver/mailbox"
)

func newFrame(t *testing.T, order mailbox.PixelOrder) (*display.Surface, *Frame) {
	t.Helper()
	g := display.Geometry{Width: 16, Height: 8, Pitch: 16*4 + 32, Order: order}
	s, _, err := display.NewSimulated(g, 0)
	require.NoError(t, err)
	s.Fill(display.RGB(0x10, 0x20, 0x30))
	s.SetPixel(3, 2, display.RGB(0xff, 0, 0))
	require.NoError(t, s.Swap())
	return s, Capture(s)
}

func TestCapture(t *testing.T) {
	for _, order := range []mailbox.PixelOrder{mailbox.RGB, mailbox.BGR} {
		t.Run(order.String(), func(t *testing.T) {
			_, f := newFrame(t, order)
			assert.Equal(t, 16, f.Width)
			assert.Equal(t, 8, f.Height)
			assert.Equal(t, 96, f.Pitch)
			assert.Equal(t, order, f.Order)
			assert.Len(t, f.Pix, 96*8)
			require.NoError(t, f.Verify())

			img := f.Image()
			assert.Equal(t, color.RGBA{0xff, 0, 0, 0xff}, img.RGBAAt(3, 2))
			assert.Equal(t, color.RGBA{0x10, 0x20, 0x30, 0xff}, img.RGBAAt(15, 7))
		})
	}
}

func TestCaptureIsCopy(t *testing.T) {
	s, f := newFrame(t, mailbox.RGB)
	s.Fill(display.RGB(0, 0, 0))
	require.NoError(t, s.Swap())
	require.NoError(t, f.Verify())
	assert.Equal(t, color.RGBA{0xff, 0, 0, 0xff}, f.Image().RGBAAt(3, 2))
}

func TestEncoding(t *testing.T) {
	_, f := newFrame(t, mailbox.BGR)
	data, err := f.MarshalBinary()
	require.NoError(t, err)
	again, err := f.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding is not deterministic")

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestEncodeSinglePixel(t *testing.T) {
	f := New(1, 1, 4, mailbox.RGB, []byte{1, 2, 3, 0})
	data, err := f.MarshalBinary()
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, f, got)
	assert.Equal(t, color.RGBA{1, 2, 3, 0xff}, got.Image().RGBAAt(0, 0))
}

func TestDecodeErrors(t *testing.T) {
	_, f := newFrame(t, mailbox.RGB)

	tampered := *f
	tampered.Pix = bytes.Clone(f.Pix)
	tampered.Pix[10] ^= 1
	data, err := tampered.MarshalBinary()
	require.NoError(t, err)
	_, err = Decode(data)
	assert.True(t, errors.Is(err, ErrDigest), "got %v", err)

	short := New(f.Width, f.Height, f.Pitch, f.Order, f.Pix[:f.Pitch])
	data, err = short.MarshalBinary()
	require.NoError(t, err)
	_, err = Decode(data)
	assert.True(t, errors.Is(err, ErrFormat), "got %v", err)

	bad := New(16, 8, 10, mailbox.RGB, f.Pix)
	assert.True(t, errors.Is(bad.Verify(), ErrFormat))

	_, err = Decode([]byte{0xff})
	assert.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	_, f := newFrame(t, mailbox.RGB)
	dir := t.TempDir()

	path := filepath.Join(dir, "frame.cbor")
	require.NoError(t, f.WriteFile(path))
	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, f.Digest, got.Digest)

	path = filepath.Join(dir, "frame.png")
	require.NoError(t, f.WriteFile(path))
	r, err := os.Open(path)
	require.NoError(t, err)
	defer r.Close()
	img, err := png.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, f.Image().Bounds(), img.Bounds())
	cr, cg, cb, _ := img.At(3, 2).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{cr, cg, cb})
}
