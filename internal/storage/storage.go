// Package storage provides the durable client-side key/value store used to
// persist the guest session identity across restarts.
package storage

// Store is a small durable string map. Implementations must treat a missing
// key as (value "", ok false, err nil); errors are reserved for the medium
// itself being unavailable.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}
