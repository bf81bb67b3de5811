package engine

import (
	"fmt"
	"image"
	"os"
	"sync"

	iface "VisorDet/interface"

	"gocv.io/x/gocv"
)

type Detector struct {
	ModelPath string
	Names     []string
	Conf      float32
	Iou       float32
	InputSize int
	UseGPU    bool
	State     int

	mu  sync.Mutex
	net gocv.Net
}

// LoadModel reads the network at modelPath. Any format gocv.ReadNet understands is accepted; ONNX
// exports of YOLOv8 are what the output parser expects.
func (d *Detector) LoadModel(modelPath string, names []string, conf, iou float32, inputSize int, useGPU bool) error {
	info, err := os.Stat(modelPath)
	if err != nil {
		return fmt.Errorf("model file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("model file %s is a directory", modelPath)
	}
	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", modelPath)
	}
	backend, target := gocv.NetBackendDefault, gocv.NetTargetCPU
	if useGPU {
		backend, target = gocv.NetBackendCUDA, gocv.NetTargetCUDA
	}
	errBackend := net.SetPreferableBackend(backend)
	errTarget := net.SetPreferableTarget(target)
	if errBackend != nil || errTarget != nil {
		_ = net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State != UNREGISTERED && d.State != 0 {
		_ = d.net.Close()
	}
	d.net = net
	d.ModelPath = modelPath
	d.Names = names
	if len(d.Names) == 0 {
		d.Names = COCOClasses
	}
	d.Conf = conf
	d.Iou = iou
	d.InputSize = inputSize
	d.UseGPU = useGPU
	d.State = IDLE
	return nil
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return iface.EngineConfig{
		ModelPath: d.ModelPath,
		Names:     d.Names,
		Conf:      d.Conf,
		Iou:       d.Iou,
		InputSize: d.InputSize,
		UseGPU:    d.UseGPU,
	}
}

func (d *Detector) Detect(frame gocv.Mat) (iface.Detections, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State != IDLE {
		return nil, ErrNotLoaded
	}

	size := image.Pt(d.InputSize, d.InputSize)
	blob := gocv.BlobFromImage(frame, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output tensor: %w", err)
	}
	scaleX := float32(frame.Cols()) / float32(d.InputSize)
	scaleY := float32(frame.Rows()) / float32(d.InputSize)
	cands := parseYOLOv8(data, dims[1], dims[2], scaleX, scaleY, d.Conf)
	if len(cands) == 0 {
		return iface.Detections{}, nil
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.rect()
		scores[i] = c.conf
	}
	keep := gocv.NMSBoxes(boxes, scores, d.Conf, d.Iou)
	return toDetections(cands, keep, d.Names), nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.State != UNREGISTERED && d.State != 0 {
		err = d.net.Close()
	}
	d.ModelPath = ""
	d.Conf = 0
	d.Iou = 0
	d.UseGPU = false
	d.State = UNREGISTERED
	return err
}
