package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/receipt-sage/internal/stores"
)

const (
	bucketName      = "receipts"
	storeBucketName = "stores"
)

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt saves a receipt to the database
	SaveReceipt(ctx context.Context, receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(id string) error

	// FindByAnalysisPath returns the receipt imported from an analysis file
	FindByAnalysisPath(path string) (*Receipt, error)

	// Close closes the database connection
	Close() error
}

// storeRecord is the value kept for each canonical store name
type storeRecord struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// BoltDB implements the DB interface using BoltDB. It is also the
// canonical store name source, keyed by name in its own bucket.
type BoltDB struct {
	db  *bbolt.DB
	now func() time.Time
}

// claimKey carries the write transaction of an in-progress store claim
type claimKey struct{}

type claimTx struct {
	db *BoltDB
	tx *bbolt.Tx
}

// update runs fn in the claim transaction carried by ctx, or in a new one
func (b *BoltDB) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if c, ok := ctx.Value(claimKey{}).(claimTx); ok && c.db == b {
		return fn(c.tx)
	}
	return b.db.Update(fn)
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(storeBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, now: time.Now}, nil
}

// SaveReceipt saves a receipt to the database. Called from the commit of
// ClaimStoreName, it joins the claim's transaction.
func (b *BoltDB) SaveReceipt(ctx context.Context, receipt *Receipt) error {
	return b.update(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(receipt.ID), data)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database. Canonical store names are kept.
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.Delete([]byte(id))
	})
}

// FindByAnalysisPath returns the receipt imported from path, or ErrNotFound
func (b *BoltDB) FindByAnalysisPath(path string) (*Receipt, error) {
	receipts, err := b.ListReceipts()
	if err != nil {
		return nil, err
	}
	for _, r := range receipts {
		if r.AnalysisPath == path {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: analysis %s", ErrNotFound, path)
}

// KnownStoreNames returns every canonical store name in key order
func (b *BoltDB) KnownStoreNames(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		names = storeNames(tx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// ClaimStoreName reads the known names, lets decide pick one, runs commit
// and inserts the name if absent, all inside one write transaction. bbolt
// allows a single writer at a time, so two claims never see the same
// snapshot. A failed commit rolls the new name back.
func (b *BoltDB) ClaimStoreName(ctx context.Context, decide func(known []string) (string, error), commit stores.Commit) (string, error) {
	var name string
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		name, err = decide(storeNames(tx))
		if err != nil {
			return err
		}
		if commit != nil {
			if err := commit(context.WithValue(ctx, claimKey{}, claimTx{db: b, tx: tx}), name); err != nil {
				return err
			}
		}

		bucket := tx.Bucket([]byte(storeBucketName))
		if bucket.Get([]byte(name)) != nil {
			return nil
		}
		data, err := json.Marshal(storeRecord{Name: name, CreatedAt: b.now()})
		if err != nil {
			return fmt.Errorf("marshaling store: %w", err)
		}
		return bucket.Put([]byte(name), data)
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

func storeNames(tx *bbolt.Tx) []string {
	names := make([]string, 0)
	bucket := tx.Bucket([]byte(storeBucketName))
	_ = bucket.ForEach(func(k, v []byte) error {
		names = append(names, string(k))
		return nil
	})
	return names
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
