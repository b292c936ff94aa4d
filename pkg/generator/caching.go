package generator

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/jingkaihe/crmmembench/pkg/logger"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// Caching wraps another generator with a disk cache. Unless overwrite is
// set, an existing cache file is loaded instead of regenerating; a load
// failure falls back to fresh generation. Writes stream one case per line so
// huge case lists never materialize their full JSON in memory.
type Caching struct {
	wrapped   Generator
	cachePath string
	overwrite bool

	once  sync.Once
	cases []*benchtypes.TestCase
	err   error
}

// NewCaching wraps gen with persistence at cachePath.
func NewCaching(gen Generator, cachePath string, overwrite bool) *Caching {
	return &Caching{
		wrapped:   gen,
		cachePath: cachePath,
		overwrite: overwrite,
	}
}

// Type implements Generator, delegating to the wrapped generator so artifact
// paths stay stable whether or not the cache was hit.
func (g *Caching) Type() string { return g.wrapped.Type() }

// ClassType implements Generator.
func (g *Caching) ClassType() string { return g.wrapped.ClassType() }

// EvidenceCount implements Generator.
func (g *Caching) EvidenceCount() int { return g.wrapped.EvidenceCount() }

// Evaluation implements Generator.
func (g *Caching) Evaluation() prompts.AnsweringEvaluation { return g.wrapped.Evaluation() }

// Generate returns the cached cases when possible, regenerating and
// rewriting the cache otherwise.
func (g *Caching) Generate(ctx context.Context) ([]*benchtypes.TestCase, error) {
	g.once.Do(func() {
		g.cases, g.err = g.generate(ctx)
	})
	return g.cases, g.err
}

func (g *Caching) generate(ctx context.Context) ([]*benchtypes.TestCase, error) {
	log := logger.G(ctx).WithField("cache_path", g.cachePath)

	if !g.overwrite {
		cases, err := g.loadCache()
		if err == nil {
			log.WithField("cases", len(cases)).Info("loaded test cases from cache")
			return cases, nil
		}
		if !os.IsNotExist(errors.Cause(err)) {
			log.WithError(err).Warn("cache load failed, regenerating")
		}
	}

	cases, err := g.wrapped.Generate(ctx)
	if err != nil {
		return nil, err
	}
	// A broken cache write must not sink the run; the cases are already in
	// memory.
	if err := g.writeCache(cases); err != nil {
		log.WithError(err).Warn("failed to write test case cache")
	} else {
		log.WithField("cases", len(cases)).Info("wrote test case cache")
	}
	return cases, nil
}

func (g *Caching) loadCache() ([]*benchtypes.TestCase, error) {
	data, err := os.ReadFile(g.cachePath)
	if err != nil {
		return nil, errors.Wrap(err, "reading test case cache")
	}
	var cases []*benchtypes.TestCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, errors.Wrap(err, "parsing test case cache")
	}
	if err := VerifyCases(cases); err != nil {
		return nil, errors.Wrap(err, "verifying cached test cases")
	}
	return cases, nil
}

func (g *Caching) writeCache(cases []*benchtypes.TestCase) error {
	if err := os.MkdirAll(filepath.Dir(g.cachePath), 0o755); err != nil {
		return errors.Wrap(err, "creating cache directory")
	}
	tmp := g.cachePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "creating cache file")
	}
	defer os.Remove(tmp)

	w := bufio.NewWriter(f)
	if _, err := w.WriteString("["); err != nil {
		f.Close()
		return errors.Wrap(err, "writing cache")
	}
	for i, tc := range cases {
		if i > 0 {
			if _, err := w.WriteString(","); err != nil {
				f.Close()
				return errors.Wrap(err, "writing cache")
			}
		}
		if _, err := w.WriteString("\n"); err != nil {
			f.Close()
			return errors.Wrap(err, "writing cache")
		}
		data, err := json.Marshal(tc)
		if err != nil {
			f.Close()
			return errors.Wrap(err, "serializing test case")
		}
		if _, err := w.Write(data); err != nil {
			f.Close()
			return errors.Wrap(err, "writing cache")
		}
	}
	if _, err := w.WriteString("\n]"); err != nil {
		f.Close()
		return errors.Wrap(err, "writing cache")
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "flushing cache")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "closing cache file")
	}
	return errors.Wrap(os.Rename(tmp, g.cachePath), "replacing cache file")
}
