package kv

import (
	"fmt"
	"strings"
)

// Store is the durable key-value port. Set must replace the value atomically:
// a concurrent Get sees either the old value or the new one.
//
//go:generate mockgen -package=kvmock -destination=kvmock/mock_store.go -source=kv.go Store
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Close() error
}

const (
	DriverBolt   = "bolt"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// Open returns the store for driver. path is a database file for bolt and a
// directory for file; it is ignored for memory.
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverBolt:
		return OpenBolt(path)
	case DriverFile:
		return OpenFile(path)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
