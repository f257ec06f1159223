package whisper

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magicxor/faster-whisper-server/internal/metrics"
)

// ModelLoadError signals that the engine rejected a model identifier.
// It is surfaced to the caller at request-accept time, never mid-stream.
type ModelLoadError struct {
	Name string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %q: %v", e.Name, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// Loader produces an inference-capable handle for a model identifier,
// blocking until the model is resident.
type Loader func(name string) (Model, error)

// ModelCache is a capacity-bounded registry of loaded model instances
// shared by all sessions. Eviction is insertion-order (FIFO): the entry
// inserted longest ago is evicted first, and a cache hit does not refresh
// an entry's position. Mutations (capacity check, evict, insert) are
// serialized under one lock; loading happens inside that region, so
// concurrent requests for the same not-yet-loaded name each trigger their
// own load in turn.
type ModelCache struct {
	maxModels int
	loader    Loader
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	order  []string
	models map[string]Model
}

// NewModelCache creates a model cache holding at most maxModels instances
func NewModelCache(maxModels int, loader Loader, logger *slog.Logger, m *metrics.Metrics) *ModelCache {
	return &ModelCache{
		maxModels: maxModels,
		loader:    loader,
		logger:    logger,
		metrics:   m,
		models:    make(map[string]Model),
	}
}

// GetOrLoad returns the resident handle for name, loading it first if
// necessary. If the cache is full the oldest-inserted entry is evicted
// before the load. Fails with *ModelLoadError when the engine rejects the
// identifier.
func (c *ModelCache) GetOrLoad(name string) (Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if model, ok := c.models[name]; ok {
		c.logger.Debug("Model already loaded", slog.String("model", name))
		return model, nil
	}

	if len(c.models) >= c.maxModels {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.models, oldest)
		c.metrics.RecordModelEviction()
		c.logger.Info("Max models reached, unloading the oldest model",
			slog.Int("max_models", c.maxModels),
			slog.String("evicted", oldest),
		)
	}

	c.logger.Debug("Loading model", slog.String("model", name))
	start := time.Now()

	model, err := c.loader(name)
	if err != nil {
		return nil, &ModelLoadError{Name: name, Err: err}
	}

	c.models[name] = model
	c.order = append(c.order, name)
	c.metrics.RecordModelLoad()

	c.logger.Info("Model loaded",
		slog.String("model", name),
		slog.Duration("load_time", time.Since(start)),
	)

	return model, nil
}

// Resident reports whether a model is currently loaded
func (c *ModelCache) Resident(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.models[name]
	return ok
}

// Len returns the number of currently resident models
func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.models)
}
