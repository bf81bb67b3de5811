package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	iface "VisorDet/interface"
	"VisorDet/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const frameBoundary = "frame"

// StateFunc reports a capture loop field for /api/status.
type StateFunc func() string

// Monitor counts frames and detections and serves them over HTTP.
type Monitor struct {
	RunID     string
	ModelTier string
	ModelPath string
	State     StateFunc
	Reason    StateFunc

	registry   *prometheus.Registry
	memUsage   prometheus.Gauge
	cpuUsage   prometheus.Gauge
	frames     prometheus.Counter
	detections *prometheus.CounterVec
	inference  prometheus.Histogram

	mu          sync.Mutex
	frameCount  int
	detectCount int
	lastSeq     int

	// latest annotated frame as JPEG; fresh is closed and replaced on every publish.
	feedMu   sync.Mutex
	jpeg     []byte
	jpegSeq  int
	fresh    chan struct{}
	done     chan struct{}
	doneOnce sync.Once

	proc *process.Process
	srv  *http.Server
}

func New(runID string) *Monitor {
	m := &Monitor{
		RunID:    runID,
		registry: prometheus.NewRegistry(),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frames_total",
			Help: "Total number of frames processed",
		}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detections_total",
			Help: "Total number of detections by class",
		}, []string{"class"}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_seconds",
			Help:    "Model inference latency per frame",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		fresh: make(chan struct{}),
		done:  make(chan struct{}),
	}
	m.registry.MustRegister(m.memUsage, m.cpuUsage, m.frames, m.detections, m.inference)
	return m
}

func (m *Monitor) ObserveFrame(seq int, dets iface.Detections, inference time.Duration, annotated gocv.Mat) {
	if !annotated.Empty() {
		buf, err := gocv.IMEncode(gocv.JPEGFileExt, annotated)
		if err != nil {
			logger.Log().Debug("encode frame", zap.Int("seq", seq), zap.Error(err))
		} else {
			m.publish(seq, bytes.Clone(buf.GetBytes()))
			buf.Close()
		}
	}
	m.frames.Inc()
	m.inference.Observe(inference.Seconds())
	for name, n := range dets.CountByName() {
		m.detections.WithLabelValues(name).Add(float64(n))
	}
	m.mu.Lock()
	m.frameCount++
	m.detectCount += len(dets)
	m.lastSeq = seq
	m.mu.Unlock()
}

func (m *Monitor) publish(seq int, jpeg []byte) {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()
	m.jpeg = jpeg
	m.jpegSeq = seq
	close(m.fresh)
	m.fresh = make(chan struct{})
}

func (m *Monitor) latest() ([]byte, int, <-chan struct{}) {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()
	return m.jpeg, m.jpegSeq, m.fresh
}

func (m *Monitor) closeFeeds() {
	m.doneOnce.Do(func() { close(m.done) })
}

type Status struct {
	RunID      string `json:"runID"`
	State      string `json:"state"`
	Reason     string `json:"reason"`
	Frames     int    `json:"frames"`
	Detections int    `json:"detections"`
	LastFrame  int    `json:"lastFrame"`
	ModelTier  string `json:"modelTier"`
	ModelPath  string `json:"modelPath"`
}

func (m *Monitor) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		RunID:      m.RunID,
		Frames:     m.frameCount,
		Detections: m.detectCount,
		LastFrame:  m.lastSeq,
		ModelTier:  m.ModelTier,
		ModelPath:  m.ModelPath,
	}
	if m.State != nil {
		st.State = m.State()
	}
	if m.Reason != nil {
		st.Reason = m.Reason()
	}
	return st
}

func (m *Monitor) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": m.Snapshot()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})))
	r.GET("/video_feed", m.videoFeed)
	return r
}

// videoFeed streams the annotated frames as MJPEG, one part per new frame.
func (m *Monitor) videoFeed(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+frameBoundary)
	c.Header("Cache-Control", "no-cache")
	sent := 0
	c.Stream(func(w io.Writer) bool {
		jpeg, seq, fresh := m.latest()
		if jpeg != nil && seq != sent {
			sent = seq
			return writePart(w, jpeg) == nil
		}
		select {
		case <-fresh:
			return true
		case <-m.done:
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func writePart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", frameBoundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func (m *Monitor) checkProcessInfo() {
	if m.proc == nil {
		return
	}
	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := m.proc.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// Start serves the router on port and samples process stats until ctx is done.
func (m *Monitor) Start(ctx context.Context, port int) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("inspect own process: %w", err)
	}
	m.proc = proc
	gin.SetMode(gin.ReleaseMode)
	m.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: m.Router(),
	}
	go func() {
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("monitor server stopped", zap.Error(err))
		}
	}()
	logger.Log().Info("monitor listening", zap.Int("port", port))
	go m.sample(ctx)
	return nil
}

func (m *Monitor) sample(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeFeeds()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := m.srv.Shutdown(shutdownCtx); err != nil {
				logger.Log().Error("monitor shutdown", zap.Error(err))
			}
			return
		case <-ticker.C:
			m.checkProcessInfo()
		}
	}
}
