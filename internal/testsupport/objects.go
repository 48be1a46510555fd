package testsupport

import (
	"bytes"

	"filesweep/internal/objectstore"
)

// SeedObjects stores each key in mem with a payload of size bytes derived
// from the key, so copies of different objects never share a checksum.
func SeedObjects(mem *objectstore.Memory, size int, keys ...string) {
	if size <= 0 {
		size = 1
	}
	for _, key := range keys {
		payload := bytes.Repeat([]byte(key), size/len(key)+1)[:size]
		mem.Put(key, payload, nil)
	}
}
