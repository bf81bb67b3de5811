package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type ModelConfig struct {
	Primary     string  `yaml:"primary"`
	Secondary   string  `yaml:"secondary"`
	Default     string  `yaml:"default"`
	ModelDir    string  `yaml:"modelDir"`
	DownloadURL string  `yaml:"downloadURL"`
	NamesFile   string  `yaml:"namesFile"`
	Conf        float32 `yaml:"conf"`
	Iou         float32 `yaml:"iou"`
	InputSize   int     `yaml:"inputSize"`
	UseGPU      bool    `yaml:"useGPU"`
}

type CameraConfig struct {
	Index  int `yaml:"index"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type WindowConfig struct {
	Title      string `yaml:"title"`
	ExitKey    int    `yaml:"exitKey"`
	PollMillis int    `yaml:"pollMillis"`
}

type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

type MonitorConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Camera  CameraConfig  `yaml:"camera"`
	Window  WindowConfig  `yaml:"window"`
	Log     LogConfig     `yaml:"log"`
	Monitor MonitorConfig `yaml:"monitor"`
}

func Default() Config {
	return Config{
		Model: ModelConfig{
			Primary:   `runs/detect/train\weights/best.onnx`,
			Secondary: "runs/detect/train/weights/best.onnx",
			Default:   "yolov8n.onnx",
			ModelDir:  "models",
			Conf:      0.25,
			Iou:       0.45,
			InputSize: 640,
		},
		Camera: CameraConfig{Index: 0},
		Window: WindowConfig{
			Title:      "YOLO Inference",
			ExitKey:    27,
			PollMillis: 1,
		},
		Log:     LogConfig{Mode: "production", Level: "info"},
		Monitor: MonitorConfig{Enabled: false, Port: 50053},
	}
}

// Load reads a yaml file over the defaults. A missing file is not an error.
// The returned notes describe every value that was clamped back to its default.
func Load(path string) (Config, []string, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, []string{fmt.Sprintf("config file %s not found, using defaults", path)}, nil
		}
		return cfg, nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, cfg.clamp(), nil
}

func (c *Config) clamp() []string {
	def := Default()
	var notes []string
	if c.Model.Conf <= 0 || c.Model.Conf > 1 {
		notes = append(notes, fmt.Sprintf("invalid model.conf %v, defaulting to %v", c.Model.Conf, def.Model.Conf))
		c.Model.Conf = def.Model.Conf
	}
	if c.Model.Iou <= 0 || c.Model.Iou > 1 {
		notes = append(notes, fmt.Sprintf("invalid model.iou %v, defaulting to %v", c.Model.Iou, def.Model.Iou))
		c.Model.Iou = def.Model.Iou
	}
	if c.Model.InputSize <= 0 || c.Model.InputSize%32 != 0 {
		notes = append(notes, fmt.Sprintf("invalid model.inputSize %d, defaulting to %d", c.Model.InputSize, def.Model.InputSize))
		c.Model.InputSize = def.Model.InputSize
	}
	if c.Model.Default == "" {
		notes = append(notes, "empty model.default, defaulting to "+def.Model.Default)
		c.Model.Default = def.Model.Default
	}
	if c.Camera.Index < 0 {
		notes = append(notes, fmt.Sprintf("invalid camera.index %d, defaulting to 0", c.Camera.Index))
		c.Camera.Index = 0
	}
	if c.Window.Title == "" {
		c.Window.Title = def.Window.Title
	}
	if c.Window.ExitKey <= 0 || c.Window.ExitKey > 0xFF {
		notes = append(notes, fmt.Sprintf("invalid window.exitKey %d, defaulting to %d", c.Window.ExitKey, def.Window.ExitKey))
		c.Window.ExitKey = def.Window.ExitKey
	}
	if c.Window.PollMillis <= 0 {
		notes = append(notes, fmt.Sprintf("invalid window.pollMillis %d, defaulting to %d", c.Window.PollMillis, def.Window.PollMillis))
		c.Window.PollMillis = def.Window.PollMillis
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		notes = append(notes, fmt.Sprintf("invalid monitor.port %d, defaulting to %d", c.Monitor.Port, def.Monitor.Port))
		c.Monitor.Port = def.Monitor.Port
	}
	return notes
}
