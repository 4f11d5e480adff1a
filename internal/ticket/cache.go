package ticket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

const (
	cacheBucket       = "tickets_db"
	savedTicketsKey   = "saved_tickets"
	merchantImagesKey = "ticket_images"
)

// CacheStore defines the interface for the on-device ticket cache
type CacheStore interface {
	// LoadAll returns the persisted collection, newest first. A missing or
	// corrupt cache yields an empty collection, never an error.
	LoadAll() []Ticket

	// SaveAll overwrites the persisted collection
	SaveAll(tickets []Ticket) error

	// Upsert inserts or replaces a single ticket and persists the collection
	Upsert(t Ticket) error

	// Delete removes the ticket with the given ID and persists the collection
	Delete(id string) error

	// MerchantImages returns the merchant to last-image-URI mapping
	MerchantImages() map[string]string

	// Close closes the cache
	Close() error
}

// BoltCache implements CacheStore using BoltDB. The whole collection is kept
// serialized under a single key, with a secondary merchant-to-image mapping
// kept for legacy lookups.
type BoltCache struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// NewBoltCache opens or creates the cache file at path
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cacheBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache bucket: %w", err)
	}

	return &BoltCache{db: db, logger: slog.Default()}, nil
}

// LoadAll returns the persisted collection sorted newest first with totals
// recomputed. Deserialization failures are absorbed: the cache degrades to
// empty rather than failing the caller.
func (c *BoltCache) LoadAll() []Ticket {
	var raw []byte
	c.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket([]byte(cacheBucket)).Get([]byte(savedTicketsKey)); data != nil {
			raw = append(raw, data...)
		}
		return nil
	})
	if raw == nil {
		return []Ticket{}
	}

	var tickets []Ticket
	if err := json.Unmarshal(raw, &tickets); err != nil {
		c.logger.Warn("Discarding unreadable ticket cache", "error", err)
		return []Ticket{}
	}

	for i := range tickets {
		tickets[i].RecomputeTotal()
	}
	sortByIDDescending(tickets)
	return tickets
}

// SaveAll overwrites the persisted collection in a single write transaction
func (c *BoltCache) SaveAll(tickets []Ticket) error {
	for i := range tickets {
		tickets[i].RecomputeTotal()
	}
	data, err := json.Marshal(tickets)
	if err != nil {
		return fmt.Errorf("marshaling tickets: %w", err)
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cacheBucket)).Put([]byte(savedTicketsKey), data)
	})
	if err != nil {
		return fmt.Errorf("writing tickets: %w", err)
	}
	return nil
}

// Upsert replaces an existing ticket matched by ID or ImageURI, or prepends a
// new one, then persists the collection and the merchant image mapping.
func (c *BoltCache) Upsert(t Ticket) error {
	t.RecomputeTotal()
	tickets := c.LoadAll()

	replaced := false
	for i := range tickets {
		if tickets[i].ID == t.ID || (t.ImageURI != "" && tickets[i].ImageURI == t.ImageURI) {
			tickets[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		tickets = append([]Ticket{t}, tickets...)
	}

	if err := c.SaveAll(tickets); err != nil {
		return err
	}
	return c.setMerchantImage(t.Merchant, t.ImageURI)
}

// Delete removes the ticket with the given ID and persists the collection
func (c *BoltCache) Delete(id string) error {
	tickets := c.LoadAll()
	kept := make([]Ticket, 0, len(tickets))
	merchant := ""
	found := false
	for _, t := range tickets {
		if t.ID == id {
			merchant = t.Merchant
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return nil
	}

	if err := c.SaveAll(kept); err != nil {
		return err
	}
	return c.removeMerchantImage(merchant)
}

// MerchantImages returns the merchant to last-image-URI mapping kept for
// legacy lookups. Corrupt data degrades to an empty map.
func (c *BoltCache) MerchantImages() map[string]string {
	var raw []byte
	c.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket([]byte(cacheBucket)).Get([]byte(merchantImagesKey)); data != nil {
			raw = append(raw, data...)
		}
		return nil
	})
	if raw == nil {
		return map[string]string{}
	}

	images := map[string]string{}
	if err := json.Unmarshal(raw, &images); err != nil {
		c.logger.Warn("Discarding unreadable merchant image mapping", "error", err)
		return map[string]string{}
	}
	return images
}

func (c *BoltCache) setMerchantImage(merchant, imageURI string) error {
	if merchant == "" || imageURI == "" {
		return nil
	}
	images := c.MerchantImages()
	images[merchant] = imageURI
	return c.saveMerchantImages(images)
}

func (c *BoltCache) removeMerchantImage(merchant string) error {
	images := c.MerchantImages()
	if _, ok := images[merchant]; !ok {
		return nil
	}
	delete(images, merchant)
	return c.saveMerchantImages(images)
}

func (c *BoltCache) saveMerchantImages(images map[string]string) error {
	data, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("marshaling merchant images: %w", err)
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cacheBucket)).Put([]byte(merchantImagesKey), data)
	})
	if err != nil {
		return fmt.Errorf("writing merchant images: %w", err)
	}
	return nil
}

// Close closes the cache file
func (c *BoltCache) Close() error {
	return c.db.Close()
}
