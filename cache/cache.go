package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/moffa90/go-busupdater/image"
	"github.com/moffa90/go-busupdater/protocol"
)

// DirName is the directory below the user cache directory holding the images.
const DirName = "busupdater"

// Key identifies a cached image by its content.
type Key struct {
	Start  uint32
	Length uint32
	CRC32  uint32
}

// KeyFromDescriptor returns the key of the image a device reports as installed.
func KeyFromDescriptor(d protocol.BootDescriptor) Key {
	return Key{Start: d.StartAddress, Length: d.Length(), CRC32: d.CRC32}
}

// KeyFromImage returns the key an image is stored under.
func KeyFromImage(img *image.BinImage) Key {
	return Key{Start: img.StartAddress(), Length: uint32(img.Length()), CRC32: img.CRC32()}
}

// FileName returns the cache file name of the key.
func (k Key) FileName() string {
	return fmt.Sprintf("image-%x-%d-%08x.bin", k.Start, k.Length, k.CRC32)
}

// Logger is the logging interface used by the cache.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
}

// Cache stores firmware images on disk, addressed by Key.
//
// Files are written once and never changed, so concurrent writers of the
// same image produce identical files.
type Cache struct {
	dir    string
	logger Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets a logger for cache hits, misses and stale entries.
func WithLogger(l Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// New returns a cache rooted at dir. The directory is created on first Store.
func New(dir string, opts ...Option) *Cache {
	c := &Cache{dir: dir}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultDir returns the per-user cache directory.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "locate user cache directory")
	}
	return filepath.Join(base, DirName), nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the file path for key.
func (c *Cache) Path(key Key) string {
	return filepath.Join(c.dir, key.FileName())
}

// Store writes img under its own key. An existing entry is left untouched.
func (c *Cache) Store(img *image.BinImage) (Key, error) {
	key := KeyFromImage(img)
	path := c.Path(key)

	if _, err := os.Stat(path); err == nil {
		c.logDebug("image already cached", "file", key.FileName())
		return key, nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return key, errors.Wrap(err, "create cache directory")
	}

	tmp, err := os.CreateTemp(c.dir, key.FileName()+".*.tmp")
	if err != nil {
		return key, errors.Wrap(err, "create cache file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(img.Data()); err != nil {
		_ = tmp.Close()
		return key, errors.Wrap(err, "write cache file")
	}
	if err := tmp.Close(); err != nil {
		return key, errors.Wrap(err, "close cache file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return key, errors.Wrap(err, "rename cache file")
	}

	c.logDebug("image cached", "file", path)
	return key, nil
}

// Load returns the image stored under key. found is false when there is no
// entry or the entry does not match the key; a miss is not an error.
func (c *Cache) Load(key Key) (img *image.BinImage, found bool, err error) {
	path := c.Path(key)
	img, err = image.ReadBin(path, key.Start)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			c.logInfo("image not in cache", "file", key.FileName())
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "load cached image %s", key.FileName())
	}

	if got := KeyFromImage(img); got != key {
		c.logInfo("ignoring stale cache entry", "file", key.FileName(),
			"length", got.Length, "crc32", fmt.Sprintf("0x%08X", got.CRC32))
		return nil, false, nil
	}

	c.logDebug("image loaded from cache", "file", path)
	return img, true, nil
}

func (c *Cache) logDebug(msg string, keysAndValues ...interface{}) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Cache) logInfo(msg string, keysAndValues ...interface{}) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}
