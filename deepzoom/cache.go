package deepzoom

// Code in this file has been derived from: https://hackernoon.com/in-memory-caching-in-golang

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type NamedDeepZoom struct {
	Id       string
	DeepZoom *DeepZoom
}

type cachedDeepZoom struct {
	NamedDeepZoom
	expireAtTimestamp int64
}

// LocalCache Opened pyramids, closed again once they expire
type LocalCache struct {
	stop     chan struct{}
	stopOnce sync.Once

	wg        sync.WaitGroup
	mu        sync.RWMutex
	ttl       time.Duration
	deepzooms map[string]cachedDeepZoom
}

// NewLocalCache Create a new local cache
func NewLocalCache(cleanupInterval time.Duration, ttl time.Duration) *LocalCache {
	log.Info("Creating new cache with cleanup interval ", cleanupInterval)
	lc := &LocalCache{
		deepzooms: make(map[string]cachedDeepZoom),
		stop:      make(chan struct{}),
		ttl:       ttl,
	}

	lc.wg.Add(1)
	go func(cleanupInterval time.Duration) {
		defer lc.wg.Done()
		lc.cleanupLoop(cleanupInterval)
	}(cleanupInterval)

	return lc
}

// cleanupLoop Cleanup cache and close open sources when cache expired
func (lc *LocalCache) cleanupLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-lc.stop:
			return
		case <-t.C:
			lc.mu.Lock()
			for uid, cu := range lc.deepzooms {
				if cu.expireAtTimestamp <= time.Now().Unix() {
					log.Info("Deepzoom Expired: ", uid)
					cu.DeepZoom.Source.Close()
					delete(lc.deepzooms, uid)
				}
			}
			lc.mu.Unlock()
		}
	}
}

// Stop End the cleanup loop and close every cached source
func (lc *LocalCache) Stop() {
	lc.stopOnce.Do(func() {
		close(lc.stop)
		lc.wg.Wait()
		lc.EmptyCache()
	})
}

// Update Add deepzoom to cache. When another request cached the same id in the meantime,
// the cached entry wins and the new pyramid is closed.
func (lc *LocalCache) Update(u NamedDeepZoom, expireAtTimestamp int64) NamedDeepZoom {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	log.Debug(fmt.Sprintf("Updating %s in cache", u.Id))

	if existing, ok := lc.deepzooms[u.Id]; ok && existing.DeepZoom != u.DeepZoom {
		u.DeepZoom.Source.Close()
		existing.expireAtTimestamp = expireAtTimestamp
		lc.deepzooms[u.Id] = existing
		return existing.NamedDeepZoom
	}

	lc.deepzooms[u.Id] = cachedDeepZoom{
		NamedDeepZoom:     u,
		expireAtTimestamp: expireAtTimestamp,
	}
	log.Debug(fmt.Sprintf("There are now %d items in cache", len(lc.deepzooms)))
	return u
}

var (
	errImageNotInCache = errors.New("the deepzoom isn't in cache")
)

// Read Read deepzoom from cache
func (lc *LocalCache) Read(id string) (NamedDeepZoom, error) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	log.Debug("Reading from cache with ID ", id)
	cu, ok := lc.deepzooms[id]
	if !ok {
		log.Debug("ID not found ", id)
		return NamedDeepZoom{}, errImageNotInCache
	}

	return cu.NamedDeepZoom, nil
}

// Len Number of cached pyramids
func (lc *LocalCache) Len() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return len(lc.deepzooms)
}

// Evict Close and drop the pyramid of a deleted slide
func (lc *LocalCache) Evict(id string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.delete(id)
}

// delete Delete item from cache, the caller holds the lock
func (lc *LocalCache) delete(id string) {
	cu, ok := lc.deepzooms[id]
	if !ok {
		return
	}
	log.Debug("Closing slide with ID ", id)
	cu.DeepZoom.Source.Close()
	delete(lc.deepzooms, id)
}

// EmptyCache Remove all elements from cache and close all file handlers
func (lc *LocalCache) EmptyCache() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	log.Debug("Emptying complete cache.")
	for key := range lc.deepzooms {
		log.Debug(fmt.Sprintf("Deleting key %s", key))
		lc.delete(key)
	}
}

// GetCachedDeepZoom Get DeepZoom object from cache, opening imagePath on a miss
func GetCachedDeepZoom(cache *LocalCache, open Opener, imageIdentifier string, imagePath string, tileSize int, tileOverlap int, limitBounds bool, format string) (*DeepZoom, error) {
	cacheDeepZoom, err := cache.Read(imageIdentifier)
	if err == nil {
		return cacheDeepZoom.DeepZoom, nil
	}

	log.Info(fmt.Sprintf("Not in cache, will add: %s", imageIdentifier))
	source, err := open(imagePath)
	if err != nil {
		return nil, err
	}
	deepZoom, err := CreateDeepZoom(source, tileSize, tileOverlap, limitBounds, format)
	if err != nil {
		source.Close()
		return nil, err
	}
	cacheDeepZoom = cache.Update(NamedDeepZoom{
		Id:       imageIdentifier,
		DeepZoom: deepZoom,
	}, time.Now().Add(cache.ttl).Unix())
	return cacheDeepZoom.DeepZoom, nil
}
