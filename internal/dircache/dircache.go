// Package dircache remembers which remote directory id a logical destination
// path resolved to, so repeated transfers into the same folder skip the
// remote lookup-or-create walk.
package dircache

import (
	"path"

	gocache "github.com/patrickmn/go-cache"
)

// Cache maps cleaned logical paths to remote directory ids. Entries never
// expire: a remote directory keeps its id for the life of the process.
type Cache struct {
	items *gocache.Cache
}

// New returns an empty cache.
func New() *Cache {
	// A zero cleanup interval disables the janitor goroutine.
	return &Cache{items: gocache.New(gocache.NoExpiration, 0)}
}

// Get returns the directory id recorded for p. A miss is not an error.
func (c *Cache) Get(p string) (string, bool) {
	v, ok := c.items.Get(key(p))
	if !ok {
		return "", false
	}

	id, ok := v.(string)

	return id, ok
}

// Put records id as the remote directory for p. Empty ids are ignored.
func (c *Cache) Put(p, id string) {
	if id == "" {
		return
	}

	c.items.Set(key(p), id, gocache.NoExpiration)
}

// Len returns the number of cached paths.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

func key(p string) string {
	if p == "" {
		return "/"
	}

	return path.Clean("/" + p)
}
