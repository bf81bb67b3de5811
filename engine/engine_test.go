package engine

import (
	"os"
	"path/filepath"
	"testing"

	iface "VisorDet/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// tensor builds a channel-major [4+nc, n] output from per-anchor rows of cx, cy, w, h, scores...
func tensor(nc int, anchors ...[]float32) []float32 {
	attrs := 4 + nc
	n := len(anchors)
	data := make([]float32, attrs*n)
	for i, a := range anchors {
		for r := 0; r < attrs; r++ {
			data[r*n+i] = a[r]
		}
	}
	return data
}

func TestParseYOLOv8(t *testing.T) {
	data := tensor(3,
		[]float32{100, 100, 20, 40, 0.1, 0.9, 0.2},
		[]float32{50, 50, 10, 10, 0.1, 0.1, 0.2},
		[]float32{300, 200, 100, 50, 0.7, 0.0, 0.0},
	)

	t.Run("Test confidence filter", func(t *testing.T) {
		cands := parseYOLOv8(data, 7, 3, 1, 1, 0.5)
		require.Len(t, cands, 2)
		assert.Equal(t, 1, cands[0].classID)
		assert.Equal(t, float32(0.9), cands[0].conf)
		assert.Equal(t, 0, cands[1].classID)
	})

	t.Run("Test box scaling", func(t *testing.T) {
		cands := parseYOLOv8(data, 7, 3, 2, 0.5, 0.5)
		require.Len(t, cands, 2)
		c := cands[0]
		assert.InDelta(t, 180, c.x1, 1e-4)
		assert.InDelta(t, 40, c.y1, 1e-4)
		assert.InDelta(t, 220, c.x2, 1e-4)
		assert.InDelta(t, 60, c.y2, 1e-4)
	})

	t.Run("Test bad shape", func(t *testing.T) {
		assert.Nil(t, parseYOLOv8(data, 4, 3, 1, 1, 0.5))
		assert.Nil(t, parseYOLOv8(data[:5], 7, 3, 1, 1, 0.5))
		assert.Nil(t, parseYOLOv8(nil, 7, 0, 1, 1, 0.5))
	})
}

func TestToDetections(t *testing.T) {
	cands := []candidate{
		{classID: 0, conf: 0.8, x1: 10, y1: 20, x2: 30, y2: 60},
		{classID: 7, conf: 0.6, x1: 0, y1: 0, x2: 4, y2: 4},
	}
	dets := toDetections(cands, []int{1, 0, 9}, []string{"person", "car"})
	require.Len(t, dets, 2)
	assert.Equal(t, "class7", dets[0].Name)
	assert.Equal(t, "person", dets[1].Name)
	assert.Equal(t, iface.Position{X: 20, Y: 40}, dets[1].Center)
	assert.Equal(t, iface.Position{X: 30, Y: 20}, dets[1].Box.RT)
	assert.Equal(t, float32(40), dets[1].Box.Height())
	assert.Equal(t, map[string]int{"class7": 1, "person": 1}, dets.CountByName())
}

func TestReadNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "names.txt")
	require.NoError(t, os.WriteFile(path, []byte("cat\r\ndog\r\n\r\n bird\n"), 0o644))
	names, err := ReadNames(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog", " bird"}, names)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\r\n"), 0o644))
	_, err = ReadNames(empty)
	assert.Error(t, err)
}

func TestDetector_All(t *testing.T) {
	d := &Detector{}

	t.Run("Test Detect unloaded", func(t *testing.T) {
		img := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
		defer img.Close()
		_, err := d.Detect(img)
		assert.ErrorIs(t, err, ErrNotLoaded)
	})

	t.Run("Test Detect empty frame", func(t *testing.T) {
		img := gocv.NewMat()
		defer img.Close()
		_, err := d.Detect(img)
		assert.ErrorIs(t, err, ErrEmptyFrame)
	})

	t.Run("Test LoadModel missing", func(t *testing.T) {
		err := d.LoadModel(filepath.Join(t.TempDir(), "none.onnx"), nil, 0.5, 0.45, 640, false)
		assert.Error(t, err)
		assert.NotEqual(t, IDLE, d.State)
	})

	t.Run("Test LoadModel directory", func(t *testing.T) {
		err := d.LoadModel(t.TempDir(), nil, 0.5, 0.45, 640, false)
		assert.Error(t, err)
	})

	t.Run("Test Close", func(t *testing.T) {
		require.NoError(t, d.Close())
		assert.Equal(t, UNREGISTERED, d.State)
		assert.Equal(t, "", d.CheckConfig().ModelPath)

		img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 1, 1, 0), 8, 8, gocv.MatTypeCV8UC3)
		defer img.Close()
		_, err := d.Detect(img)
		assert.ErrorIs(t, err, ErrNotLoaded)
		assert.Equal(t, UNREGISTERED, d.State)
	})
}

func TestPlot(t *testing.T) {
	t.Run("Test draws on a copy", func(t *testing.T) {
		img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
		defer img.Close()
		dets := iface.Detections{{ClassID: 2, Name: "car", Conf: 0.9, Box: iface.NewBox(10, 10, 80, 60)}}
		out, err := Plot(img, dets)
		require.NoError(t, err)
		defer out.Close()
		assert.Equal(t, img.Rows(), out.Rows())
		assert.Equal(t, img.Cols(), out.Cols())
		assert.Equal(t, 0, gocv.CountNonZero(firstChannel(t, img)))
		assert.Greater(t, gocv.CountNonZero(firstChannel(t, out)), 0)
	})

	t.Run("Test empty frame", func(t *testing.T) {
		img := gocv.NewMat()
		defer img.Close()
		out, err := Plot(img, nil)
		defer out.Close()
		assert.ErrorIs(t, err, ErrEmptyFrame)
	})
}

func firstChannel(t *testing.T, m gocv.Mat) gocv.Mat {
	t.Helper()
	gray := gocv.NewMat()
	t.Cleanup(func() { _ = gray.Close() })
	require.NoError(t, gocv.CvtColor(m, &gray, gocv.ColorBGRToGray))
	return gray
}

func TestClassColor(t *testing.T) {
	assert.Equal(t, classColor(3), classColor(3+len(palette)))
	assert.NotEqual(t, classColor(0), classColor(1))
	assert.Equal(t, classColor(4), classColor(-4))
}
