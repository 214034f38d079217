package schema

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// Resolver dereferences a remote schema reference ($ref).
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*types.Schema, error)
}

// RefResolver fetches schema documents with go-getter (http, https and file
// sources), rate limits the fetches and caches decoded definitions for the
// life of the resolver. Documents may be JSON or YAML.
type RefResolver struct {
	timeout time.Duration
	limiter *rate.Limiter
	pwd     string
	log     *zap.Logger

	mu    sync.Mutex
	cache map[string]*types.Schema
}

// NewRefResolver creates a resolver. A non-positive perSecond disables rate
// limiting; a non-positive timeout disables the per-fetch deadline.
func NewRefResolver(timeout time.Duration, perSecond float64, log *zap.Logger) *RefResolver {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if log == nil {
		log = zap.NewNop()
	}
	pwd, _ := os.Getwd()
	return &RefResolver{
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
		pwd:     pwd,
		log:     log,
		cache:   make(map[string]*types.Schema),
	}
}

// Resolve returns the schema definition behind ref. Any fetch or decode
// failure is reported as ErrSchemaResolution.
func (r *RefResolver) Resolve(ctx context.Context, ref string) (*types.Schema, error) {
	r.mu.Lock()
	cached, ok := r.cache[ref]
	r.mu.Unlock()
	if ok {
		return cached.Copy(), nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(types.ErrSchemaResolution, "%s: %v", ref, err)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := r.fetch(ctx, ref)
	if err != nil {
		r.log.Warn("schema reference fetch failed", zap.String("ref", ref), zap.Error(err))
		return nil, errors.Wrapf(types.ErrSchemaResolution, "fetching %s: %v", ref, err)
	}

	var doc types.SchemaDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(types.ErrSchemaResolution, "decoding %s: %v", ref, err)
	}
	s, err := doc.Schema()
	if err != nil {
		return nil, errors.Wrapf(types.ErrSchemaResolution, "decoding %s: %v", ref, err)
	}
	r.log.Debug("schema reference fetched",
		zap.String("ref", ref),
		zap.Stringer("type", s.FieldType),
		zap.Duration("took", time.Since(start)),
	)

	r.mu.Lock()
	r.cache[ref] = s
	r.mu.Unlock()
	return s.Copy(), nil
}

func (r *RefResolver) fetch(ctx context.Context, ref string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "eavl-ref-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	dst := filepath.Join(dir, "schema")

	httpGetter := &getter.HttpGetter{DoNotCheckHeadFirst: true, MaxBytes: 1 << 20}
	client := &getter.Client{
		Ctx:  ctx,
		Src:  ref,
		Dst:  dst,
		Pwd:  r.pwd,
		Mode: getter.ClientModeFile,
		Getters: map[string]getter.Getter{
			"http":  httpGetter,
			"https": httpGetter,
			"file":  &getter.FileGetter{Copy: true},
		},
	}
	if err := client.Get(); err != nil {
		return nil, err
	}
	return os.ReadFile(dst)
}
