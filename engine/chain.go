package engine

import (
	"context"
	"errors"
	"fmt"

	"VisorDet/config"
	iface "VisorDet/interface"
	"VisorDet/logger"

	"go.uber.org/zap"
)

const (
	TierPrimary   = "primary"
	TierSecondary = "secondary"
	TierDefault   = "default"
)

var ErrNoModel = errors.New("no model candidate could be loaded")

// Resolver turns a model identifier into a local file path.
type Resolver interface {
	Resolve(ctx context.Context, id string) (string, error)
}

// Candidate is one tier of the fallback chain. When Resolver is set, Path is an identifier
// that is resolved to a file before loading. Notice, if set, is logged as a warning when
// this candidate wins.
type Candidate struct {
	Tier     string
	Path     string
	Resolver Resolver
	Notice   string
}

type LoadFunc func(path string) (iface.Model, error)

// LoadFirst tries each candidate once, in order, and returns the first model that loads.
func LoadFirst(ctx context.Context, candidates []Candidate, load LoadFunc) (iface.Model, Candidate, error) {
	var errs []error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, Candidate{}, err
		}
		path := c.Path
		if c.Resolver != nil {
			resolved, err := c.Resolver.Resolve(ctx, c.Path)
			if err != nil {
				logger.Log().Debug("model candidate unresolved", zap.String("tier", c.Tier), zap.String("id", c.Path), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s %q: %w", c.Tier, c.Path, err))
				continue
			}
			path = resolved
		}
		m, err := load(path)
		if err != nil {
			logger.Log().Debug("model candidate failed", zap.String("tier", c.Tier), zap.String("path", path), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s %q: %w", c.Tier, path, err))
			continue
		}
		c.Path = path
		if c.Notice != "" {
			logger.Log().Warn(c.Notice, zap.String("tier", c.Tier), zap.String("path", path))
		}
		logger.Log().Info("model loaded", zap.String("tier", c.Tier), zap.String("path", path))
		return m, c, nil
	}
	if len(errs) == 0 {
		return nil, Candidate{}, ErrNoModel
	}
	return nil, Candidate{}, fmt.Errorf("%w: %w", ErrNoModel, errors.Join(errs...))
}

// DefaultCandidates is the custom-trained weights under both separator spellings, then the
// pretrained default.
func DefaultCandidates(cfg config.ModelConfig, hub Resolver) []Candidate {
	var out []Candidate
	if cfg.Primary != "" {
		out = append(out, Candidate{Tier: TierPrimary, Path: cfg.Primary})
	}
	if cfg.Secondary != "" {
		out = append(out, Candidate{Tier: TierSecondary, Path: cfg.Secondary})
	}
	out = append(out, Candidate{
		Tier:     TierDefault,
		Path:     cfg.Default,
		Resolver: hub,
		Notice:   "using default pretrained model",
	})
	return out
}

// NewLoader returns a LoadFunc that builds a gocv Detector from cfg.
func NewLoader(cfg config.ModelConfig) (LoadFunc, error) {
	names := COCOClasses
	if cfg.NamesFile != "" {
		var err error
		names, err = ReadNames(cfg.NamesFile)
		if err != nil {
			return nil, err
		}
	}
	return func(path string) (iface.Model, error) {
		d := &Detector{}
		if err := d.LoadModel(path, names, cfg.Conf, cfg.Iou, cfg.InputSize, cfg.UseGPU); err != nil {
			return nil, err
		}
		return d, nil
	}, nil
}
