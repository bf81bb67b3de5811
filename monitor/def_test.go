package monitor

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	iface "VisorDet/interface"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestMonitor(t *testing.T) {
	m := New("run-1")
	m.ModelTier = "default"
	m.ModelPath = "models/yolov8n.onnx"
	m.State = func() string { return "stopped" }
	m.Reason = func() string { return "exit key" }
	r := m.Router()

	blank := gocv.NewMat()
	defer blank.Close()
	dets := iface.Detections{{Name: "person"}, {Name: "person"}, {Name: "dog"}}
	m.ObserveFrame(1, dets, 20*time.Millisecond, blank)
	m.ObserveFrame(2, nil, 10*time.Millisecond, blank)

	t.Run("Test ping", func(t *testing.T) {
		w := get(t, r, "/api/ping")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
	})

	t.Run("Test status", func(t *testing.T) {
		w := get(t, r, "/api/status")
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data Status `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, Status{
			RunID:      "run-1",
			State:      "stopped",
			Reason:     "exit key",
			Frames:     2,
			Detections: 3,
			LastFrame:  2,
			ModelTier:  "default",
			ModelPath:  "models/yolov8n.onnx",
		}, body.Data)
	})

	t.Run("Test metrics", func(t *testing.T) {
		assert.Equal(t, float64(2), testutil.ToFloat64(m.frames))
		assert.Equal(t, float64(2), testutil.ToFloat64(m.detections.WithLabelValues("person")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.detections.WithLabelValues("dog")))

		w := get(t, r, "/metrics")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "frames_total 2")
		assert.Contains(t, w.Body.String(), "inference_seconds_count 2")
	})

	t.Run("Test empty frames are not published", func(t *testing.T) {
		jpeg, seq, _ := m.latest()
		assert.Nil(t, jpeg)
		assert.Equal(t, 0, seq)
	})

	t.Run("Test process sampling", func(t *testing.T) {
		proc, err := process.NewProcess(int32(os.Getpid()))
		require.NoError(t, err)
		m.proc = proc
		m.checkProcessInfo()
		assert.Greater(t, testutil.ToFloat64(m.memUsage), float64(0))
	})
}

func TestMonitor_VideoFeed(t *testing.T) {
	t.Run("Test first part is the latest frame", func(t *testing.T) {
		m := New("run-2")
		frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 128, 255, 0), 24, 32, gocv.MatTypeCV8UC3)
		defer frame.Close()
		m.ObserveFrame(7, nil, time.Millisecond, frame)

		srv := httptest.NewServer(m.Router())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/video_feed")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/x-mixed-replace", mediaType)
		require.Equal(t, "frame", params["boundary"])

		part, err := multipart.NewReader(resp.Body, params["boundary"]).NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		n, err := strconv.Atoi(part.Header.Get("Content-Length"))
		require.NoError(t, err)
		require.Greater(t, n, 2)

		data := make([]byte, n)
		_, err = io.ReadFull(part, data)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])

		decoded, err := gocv.IMDecode(data, gocv.IMReadColor)
		require.NoError(t, err)
		defer decoded.Close()
		assert.Equal(t, 24, decoded.Rows())
		assert.Equal(t, 32, decoded.Cols())
	})

	t.Run("Test stream ends on shutdown", func(t *testing.T) {
		m := New("run-3")
		m.closeFeeds()

		srv := httptest.NewServer(m.Router())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/video_feed")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Empty(t, body)
	})
}
