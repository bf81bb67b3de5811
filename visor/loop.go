package visor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	iface "VisorDet/interface"
	"VisorDet/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	Running = 0x3001
	Stopped = 0x3002
)

const EscKey = 27

type StopReason int

const (
	NotStopped StopReason = iota
	EndOfStream
	ExitKey
	Cancelled
	Failed
)

func (r StopReason) String() string {
	switch r {
	case EndOfStream:
		return "end of stream"
	case ExitKey:
		return "exit key"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "running"
	}
}

// StateName is the lower-case name of a loop state.
func StateName(state int) string {
	if state == Stopped {
		return "stopped"
	}
	return "running"
}

var ErrStopped = errors.New("capture loop already stopped")

// FrameObserver is told about every frame that made it through detection and display.
// annotated is only valid for the duration of the call.
type FrameObserver interface {
	ObserveFrame(seq int, dets iface.Detections, inference time.Duration, annotated gocv.Mat)
}

// Loop pulls frames from Source, runs Model over them and shows the result on Display.
// It is single-threaded: Run blocks the calling goroutine, which must own the display.
// ExitKey and PollMillis fall back to Esc and 1 ms when left at zero.
type Loop struct {
	Model      iface.Model
	Source     iface.VideoSource
	Display    iface.Display
	ExitKey    int
	PollMillis int
	Observer   FrameObserver

	mu          sync.Mutex
	state       int
	reason      StopReason
	frames      int
	releaseOnce sync.Once
}

func NewLoop(model iface.Model, source iface.VideoSource, display iface.Display) *Loop {
	return &Loop{
		Model:      model,
		Source:     source,
		Display:    display,
		ExitKey:    EscKey,
		PollMillis: 1,
		state:      Running,
	}
}

func (l *Loop) State() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == 0 {
		return Running
	}
	return l.state
}

func (l *Loop) Reason() StopReason {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

func (l *Loop) Frames() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}

// Run loops until end of stream, the exit key, ctx cancellation or the first detector/display
// error. The source and display are released exactly once whichever way it ends.
func (l *Loop) Run(ctx context.Context) error {
	if l.State() == Stopped {
		return ErrStopped
	}
	defer func() {
		r := recover()
		if r != nil {
			l.stop(Failed)
		}
		l.release()
		if r != nil {
			panic(r)
		}
	}()

	exitKey, poll := l.ExitKey, l.PollMillis
	if exitKey <= 0 {
		exitKey = EscKey
	}
	if poll <= 0 {
		poll = 1
	}

	frame := gocv.NewMat()
	defer frame.Close()

	for l.Source.IsOpened() {
		select {
		case <-ctx.Done():
			l.stop(Cancelled)
			return nil
		default:
		}
		if ok := l.Source.Read(&frame); !ok {
			l.stop(EndOfStream)
			return nil
		}
		if err := l.step(frame); err != nil {
			l.stop(Failed)
			return err
		}
		if key := l.Display.PollKey(poll); key == exitKey {
			l.stop(ExitKey)
			return nil
		}
	}
	l.stop(EndOfStream)
	return nil
}

func (l *Loop) step(frame gocv.Mat) error {
	l.mu.Lock()
	l.frames++
	seq := l.frames
	l.mu.Unlock()

	start := time.Now()
	dets, err := l.Model.Detect(frame)
	if err != nil {
		return fmt.Errorf("detect frame %d: %w", seq, err)
	}
	elapsed := time.Since(start)

	annotated, err := l.Model.Annotate(frame, dets)
	if err != nil {
		_ = annotated.Close()
		return fmt.Errorf("annotate frame %d: %w", seq, err)
	}
	defer annotated.Close()
	if err := l.Display.Show(annotated); err != nil {
		return fmt.Errorf("show frame %d: %w", seq, err)
	}
	if l.Observer != nil {
		l.Observer.ObserveFrame(seq, dets, elapsed, annotated)
	}
	return nil
}

func (l *Loop) stop(reason StopReason) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Stopped {
		return
	}
	l.state = Stopped
	l.reason = reason
	logger.Log().Info("capture loop stopped", zap.Stringer("reason", reason), zap.Int("frames", l.frames))
}

func (l *Loop) release() {
	l.releaseOnce.Do(func() {
		if err := l.Source.Close(); err != nil {
			logger.Log().Error("release video source", zap.Error(err))
		}
		if err := l.Display.Close(); err != nil {
			logger.Log().Error("close display", zap.Error(err))
		}
	})
}
