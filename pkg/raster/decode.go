package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/bmharper/cimg/v2"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// LoadError is returned when a raster is missing or cannot be decoded.
// There is no partial result when this happens.
type LoadError struct {
	Name string // eg "before", or a filename
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("Failed to load raster '%v': %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Fixed point BT.601 luma weights (0.299, 0.587, 0.114), scaled by 2^14.
// These are the weights that OpenCV uses for its BGR -> GRAY conversion.
const (
	lumaR     = 4899
	lumaG     = 9617
	lumaB     = 1868
	lumaShift = 14
	lumaHalf  = 1 << (lumaShift - 1)
)

func luma(r, g, b uint32) byte {
	return byte((r*lumaR + g*lumaG + b*lumaB + lumaHalf) >> lumaShift)
}

func isJPEG(data []byte) bool {
	return len(data) >= 3 && data[0] == 0xff && data[1] == 0xd8 && data[2] == 0xff
}

// Decode an encoded image (JPEG, PNG, GIF, TIFF, BMP, WebP) into a single channel grid.
// JPEGs go through libjpeg-turbo (via cimg), everything else through the image package.
// name is only used for error messages.
func Decode(name string, data []byte) (*Grid, error) {
	if len(data) == 0 {
		return nil, &LoadError{Name: name, Err: errors.New("No image data")}
	}
	if isJPEG(data) {
		img, err := cimg.Decompress(data)
		if err == nil {
			return FromCImage(img)
		}
		// Fall through to the pure Go decoder, which is more lenient with some odd files
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}
	g := FromImage(img)
	if g.Empty() {
		return nil, &LoadError{Name: name, Err: ErrEmptyGrid}
	}
	return g, nil
}

// Load and decode an image file
func LoadFile(filename string) (*Grid, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &LoadError{Name: filepath.Base(filename), Err: err}
	}
	return Decode(filepath.Base(filename), data)
}

// FromCImage converts a cimg image into a grid.
// A tightly packed 1 channel image shares its pixel buffer with the grid, so the caller
// must not modify it afterwards. Other 1 channel images are copied, and 3 or 4 channel
// images are assumed to be RGB(A).
func FromCImage(img *cimg.Image) (*Grid, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, &LoadError{Name: "cimg", Err: ErrEmptyGrid}
	}
	nchan := img.NChan()
	if nchan == 1 && img.Stride == img.Width && len(img.Pixels) >= img.Width*img.Height {
		g, err := WrapGrid(img.Width, img.Height, img.Pixels[:img.Width*img.Height])
		if err != nil {
			return nil, &LoadError{Name: "cimg", Err: err}
		}
		return g, nil
	}
	g := NewGrid(img.Width, img.Height)
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride:]
		dst := g.Pixels[y*g.Width : (y+1)*g.Width]
		switch nchan {
		case 1:
			copy(dst, src[:img.Width])
		case 3, 4:
			for x := 0; x < img.Width; x++ {
				p := src[x*nchan:]
				dst[x] = luma(uint32(p[0]), uint32(p[1]), uint32(p[2]))
			}
		default:
			return nil, &LoadError{Name: "cimg", Err: fmt.Errorf("Unsupported channel count %v", nchan)}
		}
	}
	return g, nil
}

// FromImage converts any image into a grid, using BT.601 luma for color images.
// Alpha is ignored.
func FromImage(img image.Image) *Grid {
	b := img.Bounds()
	g := NewGrid(b.Dx(), b.Dy())
	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < g.Height; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(g.Pixels[y*g.Width:(y+1)*g.Width], src.Pix[off:off+g.Width])
		}
	case *image.NRGBA:
		for y := 0; y < g.Height; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			row := src.Pix[off : off+g.Width*4]
			dst := g.Pixels[y*g.Width : (y+1)*g.Width]
			for x := range dst {
				dst[x] = luma(uint32(row[x*4]), uint32(row[x*4+1]), uint32(row[x*4+2]))
			}
		}
	case *image.RGBA:
		for y := 0; y < g.Height; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			row := src.Pix[off : off+g.Width*4]
			dst := g.Pixels[y*g.Width : (y+1)*g.Width]
			for x := range dst {
				dst[x] = luma(uint32(row[x*4]), uint32(row[x*4+1]), uint32(row[x*4+2]))
			}
		}
	default:
		for y := 0; y < g.Height; y++ {
			dst := g.Pixels[y*g.Width : (y+1)*g.Width]
			for x := range dst {
				r, gg, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				dst[x] = luma(r>>8, gg>>8, bb>>8)
			}
		}
	}
	return g
}
