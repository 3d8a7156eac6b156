// Package history defines the value types shared by the reconstruction
// pipeline: identity keys, lifecycle events and point-in-time entity states.
//
// Events and states are inputs; the reconstruction engine derives new State
// values from them and never mutates the originals.
package history

import "fmt"

// Key identifies an entity as it was known at one point in time.
// The same entity can carry several keys over its lifetime because of
// renames and moves, so a Key is only meaningful inside one partition.
type Key struct {
	Domain string `json:"domain"`
	Name   string `json:"name"`
}

// NewKey builds a Key.
func NewKey(domain, name string) Key {
	return Key{Domain: domain, Name: name}
}

// IsZero reports whether the key is empty.
func (k Key) IsZero() bool {
	return k.Domain == "" && k.Name == ""
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Domain, k.Name)
}

// Less orders keys by domain then name.
func (k Key) Less(other Key) bool {
	if k.Domain != other.Domain {
		return k.Domain < other.Domain
	}
	return k.Name < other.Name
}
