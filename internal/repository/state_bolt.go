package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// devices/<deviceID>/<key> -> JSON value
	bucketDevices = []byte("devices")
	// alarms/<deviceID> -> unix millis
	bucketAlarms = []byte("alarms")
)

const boltOpenTimeout = 5 * time.Second

// StateBolt is a StateStore backed by a single bbolt file.
type StateBolt struct {
	db *bolt.DB
}

// NewStateBolt opens (or creates) the bbolt file at path.
func NewStateBolt(path string) (*StateBolt, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir %q: %w", dir, err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open state store at %q: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketAlarms} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &StateBolt{db: db}, nil
}

func (s *StateBolt) ForDevice(deviceID string) DeviceStorage {
	return &boltDevice{db: s.db, id: []byte(deviceID)}
}

func (s *StateBolt) DevicesWithAlarms(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlarms).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	return ids, nil
}

func (s *StateBolt) Close() error {
	return s.db.Close()
}

type boltDevice struct {
	db *bolt.DB
	id []byte
}

func (d *boltDevice) Get(ctx context.Context, key string, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var raw []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices).Bucket(d.id)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, mapBoltErr(err)
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", d.id, key, err)
	}
	return true, nil
}

func (d *boltDevice) Put(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", d.id, key, err)
	}
	err = d.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketDevices).CreateBucketIfNotExists(d.id)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	return mapBoltErr(err)
}

func (d *boltDevice) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices).Bucket(d.id)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	return mapBoltErr(err)
}

func (d *boltDevice) GetAlarm(ctx context.Context) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	var (
		at    time.Time
		found bool
	)
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAlarms).Get(d.id)
		if v == nil {
			return nil
		}
		ms, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("decode alarm for %s: %w", d.id, err)
		}
		at, found = time.UnixMilli(ms), true
		return nil
	})
	if err != nil {
		return time.Time{}, false, mapBoltErr(err)
	}
	return at, found, nil
}

func (d *boltDevice) SetAlarm(ctx context.Context, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := []byte(strconv.FormatInt(at.UnixMilli(), 10))
	err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlarms).Put(d.id, v)
	})
	return mapBoltErr(err)
}

func (d *boltDevice) DeleteAlarm(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlarms).Delete(d.id)
	})
	return mapBoltErr(err)
}

func mapBoltErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrStoreClosed
	}
	return err
}
