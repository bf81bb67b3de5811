package capture

import (
	"errors"
	"fmt"

	"VisorDet/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var ErrNotOpened = errors.New("video device not opened")

// Camera is a gocv.VideoCapture on a system device index.
type Camera struct {
	Index int
	cap   *gocv.VideoCapture
}

// OpenCamera opens device index. width and height are requested only when positive.
func OpenCamera(index, width, height int) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", index, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("camera %d: %w", index, ErrNotOpened)
	}
	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	logger.Log().Info("camera opened",
		zap.Int("index", index),
		zap.Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)),
		zap.Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)))
	return &Camera{Index: index, cap: vc}, nil
}

func (c *Camera) IsOpened() bool {
	return c.cap != nil && c.cap.IsOpened()
}

// Read fills frame with the next image. False means the device has no more frames.
func (c *Camera) Read(frame *gocv.Mat) bool {
	if c.cap == nil {
		return false
	}
	if ok := c.cap.Read(frame); !ok {
		return false
	}
	return !frame.Empty()
}

func (c *Camera) Close() error {
	if c.cap == nil {
		return nil
	}
	err := c.cap.Close()
	c.cap = nil
	return err
}

// Window is a titled highgui window.
type Window struct {
	Title string
	win   *gocv.Window
}

func NewWindow(title string) *Window {
	return &Window{Title: title, win: gocv.NewWindow(title)}
}

func (w *Window) Show(frame gocv.Mat) error {
	if w.win == nil {
		return fmt.Errorf("window %q closed", w.Title)
	}
	if frame.Empty() {
		return fmt.Errorf("window %q: empty frame", w.Title)
	}
	w.win.IMShow(frame)
	return nil
}

// PollKey waits up to timeoutMillis for a key and returns its low byte, or -1.
func (w *Window) PollKey(timeoutMillis int) int {
	if w.win == nil {
		return -1
	}
	key := w.win.WaitKey(timeoutMillis)
	if key < 0 {
		return -1
	}
	return key & 0xFF
}

func (w *Window) Close() error {
	if w.win == nil {
		return nil
	}
	err := w.win.Close()
	w.win = nil
	return err
}
