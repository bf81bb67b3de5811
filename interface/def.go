package iface

import "gocv.io/x/gocv"

type Position struct {
	X, Y float32
}

type Box struct {
	LT Position
	RT Position
	RB Position
	LB Position
}

// NewBox builds the four-corner box from a left/top/right/bottom rectangle.
func NewBox(x1, y1, x2, y2 float32) Box {
	return Box{
		LT: Position{X: x1, Y: y1},
		RT: Position{X: x2, Y: y1},
		RB: Position{X: x2, Y: y2},
		LB: Position{X: x1, Y: y2},
	}
}

func (b Box) Width() float32  { return b.RB.X - b.LT.X }
func (b Box) Height() float32 { return b.RB.Y - b.LT.Y }

type Result struct {
	ClassID int
	Name    string
	Conf    float32
	Box     Box
	Center  Position
}

// Detections is the per-frame output of a Model. It is never kept across frames.
type Detections []Result

// CountByName groups detections by class name.
func (d Detections) CountByName() map[string]int {
	out := make(map[string]int, len(d))
	for _, r := range d {
		out[r.Name]++
	}
	return out
}

type EngineConfig struct {
	ModelPath string
	Names     []string
	Conf      float32
	Iou       float32
	InputSize int
	UseGPU    bool
}

// Model is a loaded detector: it finds objects in a frame and draws them onto a copy of it.
type Model interface {
	Detect(frame gocv.Mat) (Detections, error)
	Annotate(frame gocv.Mat, dets Detections) (gocv.Mat, error)
	CheckConfig() EngineConfig
	Close() error
}

// VideoSource hands out frames synchronously. Read returns false at end of stream.
type VideoSource interface {
	IsOpened() bool
	Read(frame *gocv.Mat) bool
	Close() error
}

// Display shows frames and polls the keyboard. PollKey returns -1 when no key was pressed.
type Display interface {
	Show(frame gocv.Mat) error
	PollKey(timeoutMillis int) int
	Close() error
}
