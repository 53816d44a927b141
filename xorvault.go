// Package xorvault is the client surface of the store: it self-encrypts
// blobs into content-addressed chunks, writes them through an elder with
// retry and backoff, and reassembles them on read.
package xorvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/xorvault/pkg/cache"
	"github.com/i5heu/xorvault/pkg/selfencryption"
	"github.com/i5heu/xorvault/pkg/types"
	"github.com/i5heu/xorvault/pkg/workerpool"
)

var (
	ErrNotPrivate = errors.New("xorvault: delete is only defined for private blobs")
	ErrExhausted  = errors.New("xorvault: retries exhausted")
)

// Elder is the section authority the client talks to. In production this
// sits behind a network transport; tests wire an in-process elder.
type Elder interface {
	StoreChunk(ctx context.Context, chunk types.Chunk) error
	GetChunk(ctx context.Context, addr types.ChunkAddress) (types.Chunk, error)
	DeleteChunk(ctx context.Context, addr types.ChunkAddress, requesterAuth []byte) error
}

// Config configures a client handle.
type Config struct {
	// Elder is required.
	Elder Elder
	// QueryTimeout bounds one whole operation including retries. The
	// SN_CLI_QUERY_TIMEOUT handling lives in the config loader; here it is
	// just a duration. Default 10 minutes.
	QueryTimeout time.Duration
	// MaxRetries is the attempt ceiling per chunk op. Default 10.
	MaxRetries int
	// InitialBackoff is the first retry delay; it doubles per attempt.
	// Default one second.
	InitialBackoff time.Duration
	// CacheCapacity bounds the client-side chunk cache. Default 256.
	CacheCapacity int
	// Params tunes the self-encryption codec; zero value means defaults.
	Params selfencryption.Params
	// Logger is optional.
	Logger *logrus.Logger
}

func (c *Config) applyDefaults() {
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 10
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = 256
	}
	if c.Params == (selfencryption.Params{}) {
		c.Params = selfencryption.DefaultParams()
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
}

// Client is the blob-level handle. Safe for concurrent use.
type Client struct {
	config Config
	log    *logrus.Logger
	elder  Elder
	cache  *cache.Cache
}

func NewClient(config Config) (*Client, error) {
	if config.Elder == nil {
		return nil, errors.New("xorvault: config needs an elder")
	}
	config.applyDefaults()
	return &Client{
		config: config,
		log:    config.Logger,
		elder:  config.Elder,
		cache:  cache.New(config.CacheCapacity),
	}, nil
}

// Upload self-encrypts data and stores every chunk. The root chunk goes
// last, so a returned address always points at durable leaves.
func (c *Client) Upload(ctx context.Context, data []byte) (types.BlobAddress, error) {
	return c.upload(ctx, data, nil)
}

// UploadPrivate is Upload with the root payload bound to ownerPk. Only the
// matching key can later delete the blob.
func (c *Client) UploadPrivate(ctx context.Context, data, ownerPk []byte) (types.BlobAddress, error) {
	return c.upload(ctx, data, ownerPk)
}

func (c *Client) upload(ctx context.Context, data, ownerPk []byte) (types.BlobAddress, error) {
	addr, chunks, err := selfencryption.EncryptWith(c.config.Params, data, ownerPk)
	if err != nil {
		return types.BlobAddress{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	// EncryptWith emits the root chunk last. Leaves fan out in parallel;
	// the root is stored only once every leaf is durable, so a returned
	// address never points at missing leaves.
	leaves := chunks[:len(chunks)-1]
	tasks := make([]func(context.Context) error, len(leaves))
	for i, chunk := range leaves {
		chunk := chunk
		tasks[i] = func(ctx context.Context) error {
			return c.storeOne(ctx, chunk)
		}
	}
	pool := workerpool.NewWorkerPool(workerpool.Config{WorkerCount: c.config.Params.FanOut})
	if err := pool.Do(ctx, tasks...); err != nil {
		return types.BlobAddress{}, err
	}
	if err := c.storeOne(ctx, chunks[len(chunks)-1]); err != nil {
		return types.BlobAddress{}, err
	}

	c.log.WithFields(logrus.Fields{
		"root":   addr.Root.String(),
		"scope":  addr.Scope.String(),
		"chunks": len(chunks),
		"bytes":  len(data),
	}).Info("blob uploaded")
	return addr, nil
}

// Read fetches and reassembles a public blob.
func (c *Client) Read(ctx context.Context, addr types.BlobAddress) ([]byte, error) {
	return c.read(ctx, addr, nil)
}

// ReadPrivate fetches a private blob; ownerPk must match the key the blob
// was uploaded under.
func (c *Client) ReadPrivate(ctx context.Context, addr types.BlobAddress, ownerPk []byte) ([]byte, error) {
	if addr.Scope != types.Private {
		return nil, ErrNotPrivate
	}
	return c.read(ctx, addr, ownerPk)
}

func (c *Client) read(ctx context.Context, addr types.BlobAddress, ownerPk []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	root, err := c.fetchChunk(ctx, addr.Root)
	if err != nil {
		return nil, fmt.Errorf("read root %s: %w", addr.Root, err)
	}
	data, err := selfencryption.DecryptWith(ctx, c.config.Params, root, ownerPk, c.fetchValue)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes a private blob's root chunk from its holders. Leaf chunks
// are content-addressed and possibly shared with other blobs, so they stay.
func (c *Client) Delete(ctx context.Context, addr types.BlobAddress, ownerPk []byte) error {
	if addr.Scope != types.Private {
		return ErrNotPrivate
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	err := c.withRetry(ctx, "delete", func(ctx context.Context) error {
		return c.elder.DeleteChunk(ctx, addr.Root, ownerPk)
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", addr.Root, err)
	}
	c.cache.Remove(addr.Root)
	return nil
}

func (c *Client) storeOne(ctx context.Context, chunk types.Chunk) error {
	err := c.withRetry(ctx, "store", func(ctx context.Context) error {
		return c.elder.StoreChunk(ctx, chunk)
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", chunk.Address, err)
	}
	c.cache.Insert(chunk.Address, chunk.Value)
	return nil
}

func (c *Client) fetchChunk(ctx context.Context, addr types.ChunkAddress) (types.Chunk, error) {
	if value, ok := c.cache.Get(addr); ok {
		return types.Chunk{Address: addr, Value: value}, nil
	}
	var chunk types.Chunk
	err := c.withRetry(ctx, "get", func(ctx context.Context) error {
		var gerr error
		chunk, gerr = c.elder.GetChunk(ctx, addr)
		return gerr
	})
	if err != nil {
		return types.Chunk{}, err
	}
	c.cache.Insert(addr, chunk.Value)
	return chunk, nil
}

// fetchValue adapts fetchChunk to the codec's fetch callback.
func (c *Client) fetchValue(ctx context.Context, addr types.ChunkAddress) ([]byte, error) {
	chunk, err := c.fetchChunk(ctx, addr)
	if err != nil {
		return nil, err
	}
	return chunk.Value, nil
}

// withRetry runs op with exponential backoff until it succeeds, the
// attempts run out or the context expires.
func (c *Client) withRetry(ctx context.Context, what string, op func(context.Context) error) error {
	backoff := c.config.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == c.config.MaxRetries {
			break
		}
		c.log.WithError(lastErr).WithFields(logrus.Fields{
			"op":      what,
			"attempt": attempt,
			"backoff": backoff.String(),
		}).Debug("retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, c.config.MaxRetries, lastErr)
}
