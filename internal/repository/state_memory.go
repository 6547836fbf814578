package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// StateMemory keeps device state in process memory. Values round-trip through
// JSON so callers see the same decoding behavior as StateBolt.
type StateMemory struct {
	mu     sync.Mutex
	values map[string]map[string][]byte
	alarms map[string]time.Time
	closed bool
}

func NewStateMemory() *StateMemory {
	return &StateMemory{
		values: make(map[string]map[string][]byte),
		alarms: make(map[string]time.Time),
	}
}

func (s *StateMemory) ForDevice(deviceID string) DeviceStorage {
	return &memoryDevice{store: s, id: deviceID}
}

func (s *StateMemory) DevicesWithAlarms(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	ids := make([]string, 0, len(s.alarms))
	for id := range s.alarms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *StateMemory) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type memoryDevice struct {
	store *StateMemory
	id    string
}

func (d *memoryDevice) Get(ctx context.Context, key string, dst any) (bool, error) {
	d.store.mu.Lock()
	if d.store.closed {
		d.store.mu.Unlock()
		return false, ErrStoreClosed
	}
	raw, ok := d.store.values[d.id][key]
	d.store.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", d.id, key, err)
	}
	return true, nil
}

func (d *memoryDevice) Put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", d.id, key, err)
	}
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if d.store.closed {
		return ErrStoreClosed
	}
	m, ok := d.store.values[d.id]
	if !ok {
		m = make(map[string][]byte)
		d.store.values[d.id] = m
	}
	m[key] = data
	return nil
}

func (d *memoryDevice) Delete(ctx context.Context, key string) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if d.store.closed {
		return ErrStoreClosed
	}
	delete(d.store.values[d.id], key)
	return nil
}

func (d *memoryDevice) GetAlarm(ctx context.Context) (time.Time, bool, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if d.store.closed {
		return time.Time{}, false, ErrStoreClosed
	}
	at, ok := d.store.alarms[d.id]
	return at, ok, nil
}

func (d *memoryDevice) SetAlarm(ctx context.Context, at time.Time) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if d.store.closed {
		return ErrStoreClosed
	}
	d.store.alarms[d.id] = at
	return nil
}

func (d *memoryDevice) DeleteAlarm(ctx context.Context) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if d.store.closed {
		return ErrStoreClosed
	}
	delete(d.store.alarms, d.id)
	return nil
}
