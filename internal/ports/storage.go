package ports

// KeyValue is one entry of a prefix scan, returned in key order.
type KeyValue struct {
	Key   string
	Value []byte
}

// Storage is the narrow durable KV contract every adapter in this module
// persists through. Implementations must be safe for concurrent use;
// higher-level single-writer guarantees live in the state store.
type Storage interface {
	Get(key string) (value []byte, exists bool, err error)
	Put(key string, value []byte) error
	Delete(key string) error
	ListByPrefix(prefix string) ([]KeyValue, error)
	DeleteByPrefix(prefix string) (deleted int, err error)
	Close() error
}
