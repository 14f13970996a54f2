package idempotency

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "processed_gateway_payments"

// BoltLedger keeps the ledger in a single bolt file so it survives restarts without a
// database round trip on every webhook.
type BoltLedger struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltLedger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltLedger{db: db}, nil
}

func (l *BoltLedger) Close() error {
	return l.db.Close()
}

func (l *BoltLedger) Get(_ context.Context, id string) (*Record, error) {
	var r Record
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Mark checks and inserts inside one write transaction, so two racing callers cannot both
// create the record.
func (l *BoltLedger) Mark(_ context.Context, r Record) (*Record, bool, error) {
	var result Record
	created := false

	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if existing := b.Get([]byte(r.GatewayPaymentID)); existing != nil {
			return json.Unmarshal(existing, &result)
		}
		if r.ProcessedAt.IsZero() {
			r.ProcessedAt = time.Now().UTC()
		}
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		result = r
		created = true
		return b.Put([]byte(r.GatewayPaymentID), data)
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}
