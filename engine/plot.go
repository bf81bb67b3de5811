package engine

import (
	"fmt"
	"image"
	"image/color"

	iface "VisorDet/interface"

	"gocv.io/x/gocv"
)

var palette = []color.RGBA{
	{R: 255, G: 56, B: 56}, {R: 255, G: 157, B: 151}, {R: 255, G: 112, B: 31}, {R: 255, G: 178, B: 29},
	{R: 207, G: 210, B: 49}, {R: 72, G: 249, B: 10}, {R: 146, G: 204, B: 23}, {R: 61, G: 219, B: 134},
	{R: 26, G: 147, B: 52}, {R: 0, G: 212, B: 187}, {R: 44, G: 153, B: 168}, {R: 0, G: 194, B: 255},
	{R: 52, G: 69, B: 147}, {R: 100, G: 115, B: 255}, {R: 0, G: 24, B: 236}, {R: 132, G: 56, B: 255},
	{R: 82, G: 0, B: 133}, {R: 203, G: 56, B: 255}, {R: 255, G: 149, B: 200}, {R: 255, G: 55, B: 199},
}

func classColor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

func label(r iface.Result) string {
	return fmt.Sprintf("%s %.2f", r.Name, r.Conf)
}

// Plot draws dets onto a clone of frame. The caller owns the returned Mat.
func Plot(frame gocv.Mat, dets iface.Detections) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}
	out := frame.Clone()
	for _, r := range dets {
		c := classColor(r.ClassID)
		rect := image.Rect(int(r.Box.LT.X), int(r.Box.LT.Y), int(r.Box.RB.X), int(r.Box.RB.Y))
		if err := gocv.Rectangle(&out, rect, c, 2); err != nil {
			_ = out.Close()
			return gocv.NewMat(), fmt.Errorf("draw rectangle: %w", err)
		}
		y := rect.Min.Y - 5
		if y < 12 {
			y = rect.Min.Y + 15
		}
		if err := gocv.PutText(&out, label(r), image.Pt(rect.Min.X, y), gocv.FontHersheySimplex, 0.5, c, 1); err != nil {
			_ = out.Close()
			return gocv.NewMat(), fmt.Errorf("draw label: %w", err)
		}
	}
	return out, nil
}

func (d *Detector) Annotate(frame gocv.Mat, dets iface.Detections) (gocv.Mat, error) {
	return Plot(frame, dets)
}
