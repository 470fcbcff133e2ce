package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"go.uber.org/zap"
)

var (
	ErrInvalidContentRef = errors.New("invalid content reference")
	ErrContentNotFound   = errors.New("content not found")
	ErrContentCorrupt    = errors.New("content does not match its reference")
	ErrContentTooLarge   = errors.New("content exceeds size limit")
)

// ContentNetwork announces and retrieves blobs from other peers
type ContentNetwork interface {
	Provide(ctx context.Context, ref string) error
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// ContentService stores blobs on disk keyed by their CID
type ContentService struct {
	dir      string
	maxBytes int64
	cache    *expirable.LRU[string, []byte]
	network  ContentNetwork
	logger   *zap.Logger
}

// ContentOptions configures a ContentService
type ContentOptions struct {
	Dir       string
	MaxBytes  int64
	CacheSize int
	CacheTTL  time.Duration
	Network   ContentNetwork
	Logger    *zap.Logger
}

// NewContentService creates a new content service
func NewContentService(opts ContentOptions) *ContentService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 1
	}
	return &ContentService{
		dir:      opts.Dir,
		maxBytes: opts.MaxBytes,
		cache:    expirable.NewLRU[string, []byte](size, nil, opts.CacheTTL),
		network:  opts.Network,
		logger:   logger.With(zap.String("component", "content")),
	}
}

// Reference returns the CIDv1 (raw codec, sha2-256) of data
func Reference(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// ParseReference decodes ref as a CID
func ParseReference(ref string) (cid.Cid, error) {
	c, err := cid.Decode(ref)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrInvalidContentRef, err)
	}
	return c, nil
}

// Put stores data and returns its reference. Storing the same bytes twice
// is a no-op.
func (s *ContentService) Put(ctx context.Context, data []byte) (string, error) {
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", ErrContentTooLarge
	}

	ref, err := Reference(data)
	if err != nil {
		return "", err
	}

	path := s.path(ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	// Two-level directory structure keeps directories small
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create content directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write content to disk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write content to disk: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store content: %w", err)
	}

	s.cache.Add(ref, data)
	contentBytesStored.Add(float64(len(data)))
	s.logger.Debug("content stored", zap.String("ref", ref), zap.Int("bytes", len(data)))

	if s.network != nil {
		if err := s.network.Provide(ctx, ref); err != nil {
			s.logger.Warn("failed to announce content", zap.String("ref", ref), zap.Error(err))
		}
	}

	return ref, nil
}

// Get returns the blob for ref, falling back to the peer network when it is
// not held locally
func (s *ContentService) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := s.GetLocal(ctx, ref)
	if !errors.Is(err, ErrContentNotFound) || s.network == nil {
		return data, err
	}

	c, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}
	data, err = s.network.Fetch(ctx, c.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentNotFound, err)
	}
	if err := verify(c, data); err != nil {
		return nil, err
	}
	if _, err := s.Put(ctx, data); err != nil {
		return nil, err
	}
	return data, nil
}

// GetLocal returns the blob for ref from the cache or disk only
func (s *ContentService) GetLocal(ctx context.Context, ref string) ([]byte, error) {
	c, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}
	ref = c.String()

	if data, ok := s.cache.Get(ref); ok {
		contentCacheHits.Inc()
		return data, nil
	}
	contentCacheMisses.Inc()

	data, err := os.ReadFile(s.path(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read content from disk: %w", err)
	}

	if err := verify(c, data); err != nil {
		s.logger.Error("stored content is corrupt", zap.String("ref", ref))
		return nil, err
	}

	s.cache.Add(ref, data)
	return data, nil
}

// Has reports whether ref is stored locally
func (s *ContentService) Has(ref string) bool {
	c, err := ParseReference(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(s.path(c.String()))
	return err == nil
}

func verify(c cid.Cid, data []byte) error {
	sum, err := c.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("failed to hash content: %w", err)
	}
	if !bytes.Equal(sum.Hash(), c.Hash()) {
		return ErrContentCorrupt
	}
	return nil
}

// path shards on the tail of the CID since every CIDv1 shares its prefix
func (s *ContentService) path(ref string) string {
	n := len(ref)
	return filepath.Join(s.dir, ref[n-2:], ref[n-4:n-2], ref)
}
