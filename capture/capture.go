// Package capture takes snapshots of the presented frame.
//
// Frames are encoded as deterministic CBOR and carry a BLAKE2b-256
// digest of their pixels, checked when decoding.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
	"pidisplay.dev/display"
	"pidisplay.dev/driver/mailbox"
)

// Frame is a copy of a front buffer, rows Pitch bytes apart.
type Frame struct {
	Width  int                `cbor:"1,keyasint"`
	Height int                `cbor:"2,keyasint"`
	Pitch  int                `cbor:"3,keyasint"`
	Order  mailbox.PixelOrder `cbor:"4,keyasint"`
	Pix    []byte             `cbor:"5,keyasint"`
	Digest []byte             `cbor:"6,keyasint"`
}

var (
	ErrDigest = errors.New("capture: digest mismatch")
	ErrFormat = errors.New("capture: invalid frame")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	encMode, decMode = em, dm
}

// Capture copies the front buffer of s.
func Capture(s *display.Surface) *Frame {
	g := s.Geometry()
	front := s.Front().Bytes()
	n := min(len(front), g.Pitch*g.Height)
	return New(g.Width, g.Height, g.Pitch, g.Order, bytes.Clone(front[:n]))
}

// New returns a frame of pix with its digest computed.
func New(width, height, pitch int, order mailbox.PixelOrder, pix []byte) *Frame {
	f := &Frame{
		Width:  width,
		Height: height,
		Pitch:  pitch,
		Order:  order,
		Pix:    pix,
	}
	f.Digest = digest(pix)
	return f
}

func digest(pix []byte) []byte {
	d := blake2b.Sum256(pix)
	return d[:]
}

// Verify checks the frame geometry and digest.
func (f *Frame) Verify() error {
	if f.Width <= 0 || f.Height <= 0 || f.Pitch < f.Width*4 {
		return fmt.Errorf("%w: %dx%d pitch %d", ErrFormat, f.Width, f.Height, f.Pitch)
	}
	if need := f.Pitch*(f.Height-1) + f.Width*4; len(f.Pix) < need {
		return fmt.Errorf("%w: %d bytes of pixels, need %d", ErrFormat, len(f.Pix), need)
	}
	if !bytes.Equal(f.Digest, digest(f.Pix)) {
		return ErrDigest
	}
	return nil
}

// frame has the fields of Frame without its methods, so that encoding
// does not recurse into MarshalBinary.
type frame Frame

func (f *Frame) MarshalBinary() ([]byte, error) {
	return encMode.Marshal((*frame)(f))
}

// Decode parses and verifies an encoded frame.
func Decode(data []byte) (*Frame, error) {
	f := new(Frame)
	if err := decMode.Unmarshal(data, (*frame)(f)); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if err := f.Verify(); err != nil {
		return nil, err
	}
	return f, nil
}

// Image converts the frame to RGBA, dropping row padding.
func (f *Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Pitch : y*f.Pitch+f.Width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+f.Width*4]
		for x := 0; x < len(src); x += 4 {
			r, g, b := src[x], src[x+1], src[x+2]
			if f.Order == mailbox.BGR {
				r, b = b, r
			}
			dst[x], dst[x+1], dst[x+2], dst[x+3] = r, g, b, 0xff
		}
	}
	return img
}

// WriteFile writes the frame to path, as PNG if the name ends in
// .png and as CBOR otherwise.
func (f *Frame) WriteFile(path string) error {
	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".png") {
		buf := new(bytes.Buffer)
		if err := png.Encode(buf, f.Image()); err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = f.MarshalBinary()
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	return nil
}

// ReadFile reads a CBOR encoded frame.
func ReadFile(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return Decode(data)
}
