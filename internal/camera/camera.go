// Package camera adapts gocv capture devices and windows to the capture loop.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"

	"github.com/andresmejia3/rollcall/internal/capture"
	"github.com/andresmejia3/rollcall/internal/types"
	"gocv.io/x/gocv"
)

// ErrNoFrame is returned when the device produced no image on this read.
var ErrNoFrame = errors.New("camera returned no frame")

var (
	knownColor   = color.RGBA{G: 255}
	unknownColor = color.RGBA{R: 255}
)

// labelHeight is roughly the pixel height of a label at the scale Annotate uses.
const labelHeight = 15

// Camera is an open video source: a local device index or a stream URL.
type Camera struct {
	source string
	vc     *gocv.VideoCapture
}

// Open opens source. A numeric source is a device index, anything else is
// handed to the backend as a file or stream URL.
func Open(source string) (*Camera, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if idx, convErr := strconv.Atoi(source); convErr == nil {
		vc, err = gocv.OpenVideoCapture(idx)
	} else {
		vc, err = gocv.OpenVideoCapture(source)
	}
	if err != nil {
		return nil, fmt.Errorf("could not open camera %q: %w", source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("could not open camera %q", source)
	}
	return &Camera{source: source, vc: vc}, nil
}

// Read grabs the next frame. The caller owns the frame and must Close it.
func (c *Camera) Read(ctx context.Context) (capture.Frame, error) {
	mat := gocv.NewMat()
	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, ErrNoFrame
	}
	return &Frame{mat: mat}, nil
}

func (c *Camera) Close() error {
	return c.vc.Close()
}

// Frame wraps a BGR gocv.Mat.
type Frame struct {
	mat gocv.Mat
}

// LoadImage reads an image file into a frame, used by enrollment.
func LoadImage(path string) (*Frame, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("could not decode image %s", path)
	}
	return &Frame{mat: mat}, nil
}

func (f *Frame) Size() image.Point {
	return image.Pt(f.mat.Cols(), f.mat.Rows())
}

// DownscaleRGB resizes by scale and converts BGR to packed RGB bytes.
func (f *Frame) DownscaleRGB(scale float64) (types.FrameTask, error) {
	small := gocv.NewMat()
	defer small.Close()
	if scale == 1 {
		f.mat.CopyTo(&small)
	} else {
		gocv.Resize(f.mat, &small, image.Point{}, scale, scale, gocv.InterpolationLinear)
	}
	if small.Empty() {
		return types.FrameTask{}, fmt.Errorf("resize by %.2f produced an empty image", scale)
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(small, &rgb, gocv.ColorBGRToRGB)

	return types.FrameTask{
		Width:  rgb.Cols(),
		Height: rgb.Rows(),
		Pix:    rgb.ToBytes(),
	}, nil
}

// EncodeJPEG crops r out of the frame and JPEG-encodes it.
func (f *Frame) EncodeJPEG(r image.Rectangle) ([]byte, error) {
	r = r.Intersect(image.Rectangle{Max: f.Size()})
	if r.Empty() {
		return nil, fmt.Errorf("crop %v is outside the frame", r)
	}
	region := f.mat.Region(r)
	defer region.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, region)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Annotate draws a box with a name label: green for known, red for unknown.
func (f *Frame) Annotate(r image.Rectangle, label string, known bool) {
	c := unknownColor
	if known {
		c = knownColor
	}
	_ = gocv.Rectangle(&f.mat, r, c, 2)
	_ = gocv.PutText(&f.mat, label, labelOrigin(r), gocv.FontHersheySimplex, 0.6, c, 2)
}

// labelOrigin places the label baseline just above the box, or below it when
// the box touches the top edge of the frame.
func labelOrigin(r image.Rectangle) image.Point {
	if y := r.Min.Y - 10; y >= labelHeight {
		return image.Pt(r.Min.X, y)
	}
	return image.Pt(r.Min.X, r.Max.Y+20)
}

func (f *Frame) Close() error {
	return f.mat.Close()
}

// Window is the operator preview. Pressing q asks the loop to stop.
type Window struct {
	w *gocv.Window
}

func NewWindow(title string) *Window {
	return &Window{w: gocv.NewWindow(title)}
}

func (w *Window) Show(frame capture.Frame) bool {
	f, ok := frame.(*Frame)
	if !ok {
		return false
	}
	w.w.IMShow(f.mat)
	return w.w.WaitKey(1)&0xFF == 'q'
}

func (w *Window) Close() error {
	return w.w.Close()
}
