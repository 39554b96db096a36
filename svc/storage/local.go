package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"bitbin/metrics"
	"bitbin/pkg/domain"
	"bitbin/pkg/record"
	"bitbin/svc/util"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	LocalID       = "local"
	tempPattern   = ".bitbin-*.tmp"
	dirPerm       = 0o755
	defaultRootFS = "content"
)

// Local keeps one record file per key directly under root.
type Local struct {
	root string
}

func NewLocal(root string) *Local {
	if root == "" {
		root = defaultRootFS
	}
	return &Local{root: root}
}

func (l *Local) ID() string   { return LocalID }
func (l *Local) Root() string { return l.root }

func (l *Local) Init(ctx context.Context) error {
	return errors.Wrap(os.MkdirAll(l.root, dirPerm), "create content dir")
}

func (l *Local) path(key string) (string, error) {
	if !util.ValidKey(key) {
		return "", domain.ErrContentNotFound
	}
	return filepath.Join(l.root, key), nil
}

func (l *Local) Save(ctx context.Context, c *domain.Content) error {
	if c == nil {
		return errors.Wrap(domain.ErrInvalidRecord, "nil content")
	}
	if !util.ValidKey(c.Key) {
		return errors.Wrapf(domain.ErrInvalidRecord, "key %q", c.Key)
	}
	if err := l.Init(ctx); err != nil {
		return err
	}
	buf, err := record.Encode(c)
	if err != nil {
		return err
	}
	target := filepath.Join(l.root, c.Key)
	if _, err := os.Lstat(target); err == nil {
		return errors.Wrapf(domain.ErrKeyConflict, "key %s", c.Key)
	}
	tmp, err := l.writeTemp(buf)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	if err := ctx.Err(); err != nil {
		return err
	}
	// link(2) refuses an existing target, so the check and the publish are one step.
	if err := os.Link(tmp, target); err != nil {
		if os.IsExist(err) {
			return errors.Wrapf(domain.ErrKeyConflict, "key %s", c.Key)
		}
		return errors.Wrap(err, "publish record")
	}
	syncDir(l.root)
	return nil
}

func (l *Local) writeTemp(buf []byte) (string, error) {
	f, err := os.CreateTemp(l.root, tempPattern)
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	name := f.Name()
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(name)
		return "", errors.Wrap(err, "write record")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", errors.Wrap(err, "sync record")
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", errors.Wrap(err, "close record")
	}
	return name, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	if err := d.Sync(); err != nil {
		util.Debug().Err(err).Str("dir", dir).Msg("directory sync failed")
	}
	d.Close()
}

func (l *Local) Get(ctx context.Context, key string, skipContent bool) (*domain.Content, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	buf, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrContentNotFound
		}
		return nil, errors.Wrapf(err, "read record %s", key)
	}
	c, err := record.Decode(buf, skipContent)
	if err != nil {
		return nil, errors.Wrapf(err, "decode record %s", key)
	}
	c.BackendID = LocalID
	return c, nil
}

func (l *Local) ListAll(ctx context.Context) ([]*domain.Content, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []*domain.Content{}, nil
		}
		return nil, errors.Wrap(err, "read content dir")
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !e.Type().IsRegular() {
			continue
		}
		keys = append(keys, name)
	}
	items := make([]*domain.Content, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := l.Get(gctx, key, true)
			if err != nil {
				metrics.ListSkipped.WithLabelValues(LocalID).Inc()
				util.Warn().Err(err).Str("key", key).Msg("skipping unreadable record")
				return nil
			}
			items[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sortByKey(items), nil
}
