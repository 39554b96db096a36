package svc

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bitbin/cfg"
	"bitbin/metrics"
	"bitbin/pkg/domain"
	"bitbin/svc/cache"
	"bitbin/svc/db"
	"bitbin/svc/encoding"
	"bitbin/svc/pool"
	"bitbin/svc/storage"
	"bitbin/svc/util"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const maxCreateAttempts = 3

var ErrShuttingDown = errors.New("service shutting down")

type Content struct {
	db       *db.SQLite
	lru      *cache.LRU
	rdb      *db.Redis
	backend  storage.Backend
	pool     *pool.Pool
	cfg      *cfg.Cfg
	lookups  singleflight.Group
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}

// NewContent wires the service. rdb may be nil; the pool must be started.
func NewContent(sqlDB *db.SQLite, lru *cache.LRU, rdb *db.Redis, backend storage.Backend, p *pool.Pool, c *cfg.Cfg) *Content {
	if sqlDB == nil || lru == nil || backend == nil || p == nil || c == nil {
		panic("content service: nil dependency (sqlDB, lru, backend, pool, or cfg)")
	}
	return &Content{
		db:      sqlDB,
		lru:     lru,
		rdb:     rdb,
		backend: backend,
		pool:    p,
		cfg:     c,
	}
}

func (s *Content) Backend() storage.Backend { return s.backend }

func (s *Content) enter() error {
	if s.shutdown.Load() {
		return ErrShuttingDown
	}
	s.opWg.Add(1)
	return nil
}

// Shutdown refuses new operations and waits for running ones.
func (s *Content) Shutdown() {
	s.shutdown.Store(true)
	s.opWg.Wait()
	util.Debug().Msg("content service shutdown complete")
}

// Create stores a new item under a fresh key and returns its metadata.
func (s *Content) Create(ctx context.Context, params domain.CreateParams) (*domain.Content, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.opWg.Done()
	if len(params.Body) == 0 {
		return nil, domain.ErrContentRequired
	}
	if int64(len(params.Body)) > s.cfg.MaxContentSize {
		return nil, domain.ErrContentTooLarge
	}
	contentType := strings.TrimSpace(params.ContentType)
	if contentType == "" {
		contentType = domain.DefaultContentType
	}
	body := params.Body
	codings := encoding.ParseContentEncoding(params.ContentEncoding)
	contentEncoding := strings.Join(codings, ",")
	if len(codings) == 0 {
		err := s.pool.Do(ctx, func() error {
			var err error
			body, err = encoding.Compress(params.Body, s.cfg.GzipLevel)
			return err
		})
		if err != nil {
			return nil, errors.Wrap(err, "compress content")
		}
		contentEncoding = domain.EncodingGzip
	}
	lastModified := time.UnixMilli(time.Now().UnixMilli())
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		key, err := util.GenKey(s.cfg.KeyLength, func(k string) (bool, error) {
			return s.db.Exists(ctx, k)
		})
		if err != nil {
			return nil, errors.Wrap(err, "generate key")
		}
		c := &domain.Content{
			Key:             key,
			ContentType:     contentType,
			LastModified:    lastModified,
			ContentEncoding: contentEncoding,
			BackendID:       s.backend.ID(),
			ContentLength:   len(body),
			Content:         body,
		}
		err = s.store(ctx, c)
		if errors.Is(err, domain.ErrKeyConflict) {
			metrics.KeyRetries.Inc()
			util.Warn().Str("key", key).Int("attempt", attempt).Msg("key conflict, retrying with a new key")
			continue
		}
		if err != nil {
			return nil, err
		}
		s.cacheInfo(ctx, c)
		metrics.ContentCreated.WithLabelValues(c.BackendID, c.ContentEncoding).Inc()
		metrics.StoredBytes.Add(float64(c.ContentLength))
		util.Info().
			Str("key", key).
			Str("encoding", c.ContentEncoding).
			Int("bytes", c.ContentLength).
			Msg("content created")
		return c.Info(), nil
	}
	return nil, errors.Wrapf(domain.ErrKeyConflict, "no free key after %d attempts", maxCreateAttempts)
}

// store indexes c and then writes it to the backend. A write that fails
// removes the index row again. Once the write is queued it finishes even
// if ctx ends.
func (s *Content) store(ctx context.Context, c *domain.Content) error {
	if err := s.db.Create(ctx, c); err != nil {
		return err
	}
	detached := context.WithoutCancel(ctx)
	done, err := s.pool.Submit(ctx, func() error {
		err := s.backend.Init(detached)
		if err == nil {
			err = s.backend.Save(detached, c)
		}
		if err != nil {
			s.unindex(detached, c.Key)
		}
		return err
	})
	if err != nil {
		s.unindex(detached, c.Key)
		return errors.Wrap(err, "queue save")
	}
	select {
	case err := <-done:
		return errors.Wrap(err, "save content")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Content) unindex(ctx context.Context, key string) {
	if err := s.db.Delete(ctx, key); err != nil {
		util.Error().Err(err).Str("key", key).Msg("failed to remove index row after failed save")
	}
}

func (s *Content) cacheInfo(ctx context.Context, c *domain.Content) {
	s.lru.Set(c, s.cfg.MetadataCacheTTL)
	if s.rdb != nil {
		if err := s.rdb.CacheInfo(ctx, c, s.cfg.MetadataCacheTTL); err != nil {
			util.Warn().Err(err).Str("key", c.Key).Msg("failed to cache in Redis")
		}
	}
}

// Info returns the metadata for key from the first tier that has it.
func (s *Content) Info(ctx context.Context, key string) (*domain.Content, error) {
	if !util.ValidKey(key) {
		return nil, domain.ErrContentNotFound
	}
	if c := s.lru.Get(ctx, key); c != nil {
		metrics.CacheHits.WithLabelValues("lru").Inc()
		return c, nil
	}
	v, err, _ := s.lookups.Do(key, func() (interface{}, error) {
		if s.rdb != nil {
			c, err := s.rdb.GetInfo(ctx, key)
			if err != nil {
				util.Warn().Err(err).Str("key", key).Msg("redis lookup failed")
			} else if c != nil {
				metrics.CacheHits.WithLabelValues("redis").Inc()
				s.lru.Set(c, s.cfg.MetadataCacheTTL)
				return c, nil
			}
		}
		metrics.CacheMisses.Inc()
		c, err := s.db.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		s.cacheInfo(ctx, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Content).Info(), nil
}

// Get loads key and negotiates its encoding against acceptEncoding.
func (s *Content) Get(ctx context.Context, key, acceptEncoding string) (*domain.Served, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.opWg.Done()
	info, err := s.Info(ctx, key)
	if err != nil {
		return nil, err
	}
	var c *domain.Content
	err = s.pool.Do(ctx, func() error {
		var err error
		c, err = s.backend.Get(ctx, key, false)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrContentNotFound) {
			util.Warn().Str("key", key).Str("backend", info.BackendID).Msg("indexed content missing from storage")
		}
		return nil, err
	}
	d, err := encoding.Negotiate(ctx, c.ContentEncoding, acceptEncoding, c.Content, s.cfg.MaxTranscodeSize, s.pool.Do)
	if err != nil {
		if errors.Is(err, domain.ErrNotAcceptable) {
			metrics.ContentNotAcceptable.Inc()
		}
		return nil, err
	}
	if d.Transcoded {
		metrics.ContentTranscoded.Inc()
		util.Warn().
			Str("key", key).
			Str("stored", c.ContentEncoding).
			Str("accept", acceptEncoding).
			Msg("client does not accept stored encoding, serving decompressed")
	}
	metrics.ContentRetrieved.WithLabelValues(d.ContentEncoding).Inc()
	return &domain.Served{
		Info:            c.Info(),
		Body:            d.Body,
		ContentEncoding: d.ContentEncoding,
		Transcoded:      d.Transcoded,
	}, nil
}
