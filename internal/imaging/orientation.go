package imaging

import (
	"bytes"
	"image"
	"io"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/math/f64"
)

// orientationScanLimit bounds how much of the file header is searched for EXIF data.
const orientationScanLimit = 128 << 10

// Orientation is the EXIF orientation tag (1..8).
type Orientation int

const (
	OrientationNormal     Orientation = 1
	OrientationFlipH      Orientation = 2
	OrientationRotate180  Orientation = 3
	OrientationFlipV      Orientation = 4
	OrientationTranspose  Orientation = 5
	OrientationRotate90   Orientation = 6
	OrientationTransverse Orientation = 7
	OrientationRotate270  Orientation = 8
)

// SwapsAxes reports whether the upright raster has width and height exchanged.
func (o Orientation) SwapsAxes() bool {
	return o >= OrientationTranspose && o <= OrientationRotate270
}

// ReadOrientation scans the header of data for an EXIF orientation tag.
// Missing or unreadable metadata yields OrientationNormal.
func ReadOrientation(data []byte) (o Orientation) {
	o = OrientationNormal
	defer func() {
		if recover() != nil {
			o = OrientationNormal
		}
	}()

	x, err := exif.Decode(io.LimitReader(bytes.NewReader(data), orientationScanLimit))
	if err != nil {
		return OrientationNormal
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationNormal
	}
	v, err := tag.Int(0)
	if err != nil || v < int(OrientationNormal) || v > int(OrientationRotate270) {
		return OrientationNormal
	}
	return Orientation(v)
}

// transform returns the source-to-canvas matrix that scales the sr region to
// tw×th and applies o. For orientations 5..8 the canvas is th×tw.
func (o Orientation) transform(sr image.Rectangle, tw, th int) f64.Aff3 {
	kx := float64(tw) / float64(sr.Dx())
	ky := float64(th) / float64(sr.Dy())
	w, h := float64(tw), float64(th)

	var m f64.Aff3
	switch o {
	case OrientationFlipH:
		m = f64.Aff3{-kx, 0, w, 0, ky, 0}
	case OrientationRotate180:
		m = f64.Aff3{-kx, 0, w, 0, -ky, h}
	case OrientationFlipV:
		m = f64.Aff3{kx, 0, 0, 0, -ky, h}
	case OrientationTranspose:
		m = f64.Aff3{0, ky, 0, kx, 0, 0}
	case OrientationRotate90:
		m = f64.Aff3{0, -ky, h, kx, 0, 0}
	case OrientationTransverse:
		m = f64.Aff3{0, -ky, h, -kx, 0, w}
	case OrientationRotate270:
		m = f64.Aff3{0, ky, 0, -kx, 0, w}
	default:
		m = f64.Aff3{kx, 0, 0, 0, ky, 0}
	}

	// Decoded bitmaps may not start at the origin.
	x0, y0 := float64(sr.Min.X), float64(sr.Min.Y)
	m[2] -= m[0]*x0 + m[1]*y0
	m[5] -= m[3]*x0 + m[4]*y0
	return m
}
