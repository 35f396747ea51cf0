package transcript

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Cache keeps fetched YouTube transcripts on disk keyed by video and language.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenCache opens a badger store in dir. An empty dir keeps everything in
// memory.
func OpenCache(dir string, ttl time.Duration) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db, ttl: ttl}, nil
}

func cacheKey(videoID, lang string) []byte {
	return []byte("yt/" + videoID + "/" + lang)
}

// Get reports false on a miss.
func (c *Cache) Get(videoID, lang string) (Transcript, bool, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(videoID, lang))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Transcript{}, false, nil
	}
	if err != nil {
		return Transcript{}, false, err
	}
	var t Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		return Transcript{}, false, err
	}
	return t, true, nil
}

func (c *Cache) Put(videoID, lang string, t Transcript) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(cacheKey(videoID, lang), raw)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

func (c *Cache) Close() error {
	return c.db.Close()
}
