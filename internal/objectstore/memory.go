package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// Op names a Store method for fault injection and the mutation log.
type Op string

const (
	OpList   Op = "list"
	OpStat   Op = "stat"
	OpCopy   Op = "copy"
	OpDelete Op = "delete"
	OpPut    Op = "put"
)

// Mutation is one state-changing call recorded by Memory.
type Mutation struct {
	Op  Op
	Key string
}

type memObject struct {
	data         []byte
	etag         string
	lastModified time.Time
	metadata     map[string]string
}

type fault struct {
	err       error
	remaining int
	keyPrefix string
}

// Memory is an in-process Store used by tests and dry-run demos. Keys are
// kept sorted for listing; continuation tokens are the last key returned.
type Memory struct {
	mu        sync.Mutex
	objects   map[string]memObject
	faults    map[Op][]*fault
	corrupt   bool
	mutations []Mutation
	calls     map[Op]int
	now       func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]memObject),
		faults:  make(map[Op][]*fault),
		calls:   make(map[Op]int),
		now:     time.Now,
	}
}

// Put stores data at key without recording a mutation. Intended for seeding.
func (m *Memory) Put(key string, data []byte, metadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := md5.Sum(data)
	m.objects[key] = memObject{
		data:         append([]byte(nil), data...),
		etag:         hex.EncodeToString(sum[:]),
		lastModified: m.now(),
		metadata:     maps.Clone(metadata),
	}
}

// FailNext makes the next n calls of op fail with err. A zero n fails every call.
func (m *Memory) FailNext(op Op, err error, n int) {
	m.FailNextFor(op, "", err, n)
}

// FailNextFor is FailNext restricted to keys (or list prefixes) starting with keyPrefix.
func (m *Memory) FailNextFor(op Op, keyPrefix string, err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := n
	if remaining == 0 {
		remaining = -1
	}
	m.faults[op] = append(m.faults[op], &fault{err: err, remaining: remaining, keyPrefix: keyPrefix})
}

// CorruptCopies makes Copy write a truncated object so verification fails.
func (m *Memory) CorruptCopies(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupt = enabled
}

// Keys returns every stored key in sorted order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key exists.
func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Mutations returns the copy/delete/put calls that changed state.
func (m *Memory) Mutations() []Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mutation(nil), m.mutations...)
}

// Calls returns how many times op was invoked, including failed calls.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// SetClock overrides the time source used for LastModified.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// injected must be called with mu held.
func (m *Memory) injected(op Op, key string) error {
	m.calls[op]++
	for _, f := range m.faults[op] {
		if f.remaining == 0 {
			continue
		}
		if f.keyPrefix != "" && !strings.HasPrefix(key, f.keyPrefix) {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
		}
		return f.err
	}
	return nil
}

func (m *Memory) List(ctx context.Context, in ListInput) (ListPage, error) {
	if err := ctx.Err(); err != nil {
		return ListPage{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpList, in.Prefix); err != nil {
		return ListPage{}, err
	}

	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		if strings.HasPrefix(key, in.Prefix) && key > in.ContinuationToken {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	maxKeys := in.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	var page ListPage
	seenPrefix := make(map[string]struct{})
	count := 0
	for _, key := range keys {
		common := ""
		if in.Delimiter != "" {
			rest := strings.TrimPrefix(key, in.Prefix)
			if idx := strings.Index(rest, in.Delimiter); idx >= 0 {
				common = in.Prefix + rest[:idx+len(in.Delimiter)]
			}
		}
		if _, ok := seenPrefix[common]; ok && common != "" {
			// Rolled up into a prefix already on this page.
			page.NextContinuationToken = key
			continue
		}
		if count == maxKeys {
			page.Truncated = true
			break
		}
		if common != "" {
			seenPrefix[common] = struct{}{}
			page.CommonPrefixes = append(page.CommonPrefixes, common)
			page.NextContinuationToken = key
			count++
			continue
		}
		obj := m.objects[key]
		page.Objects = append(page.Objects, m.record(key, obj, false))
		page.NextContinuationToken = key
		count++
	}
	if !page.Truncated {
		page.NextContinuationToken = ""
	}
	return page, nil
}

func (m *Memory) record(key string, obj memObject, withMetadata bool) ObjectRecord {
	rec := ObjectRecord{
		Key:          key,
		SizeBytes:    int64(len(obj.data)),
		LastModified: obj.lastModified,
		ETag:         obj.etag,
	}
	if withMetadata {
		rec.Metadata = maps.Clone(obj.metadata)
	}
	return rec
}

func (m *Memory) Stat(ctx context.Context, key string) (ObjectRecord, error) {
	if err := ctx.Err(); err != nil {
		return ObjectRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpStat, key); err != nil {
		return ObjectRecord{}, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return ObjectRecord{}, fmt.Errorf("stat %q: %w", key, ErrNotFound)
	}
	return m.record(key, obj, true), nil
}

func (m *Memory) Copy(ctx context.Context, in CopyInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpCopy, in.SourceKey); err != nil {
		return err
	}
	src, ok := m.objects[in.SourceKey]
	if !ok {
		return fmt.Errorf("copy %q: %w", in.SourceKey, ErrNotFound)
	}
	data := append([]byte(nil), src.data...)
	etag := src.etag
	if m.corrupt && len(data) > 0 {
		data = data[:len(data)-1]
		sum := md5.Sum(data)
		etag = hex.EncodeToString(sum[:])
	}
	metadata := maps.Clone(src.metadata)
	if in.Metadata != nil {
		metadata = maps.Clone(in.Metadata)
	}
	m.objects[in.DestKey] = memObject{data: data, etag: etag, lastModified: m.now(), metadata: metadata}
	m.mutations = append(m.mutations, Mutation{Op: OpCopy, Key: in.DestKey})
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpDelete, key); err != nil {
		return err
	}
	if _, ok := m.objects[key]; ok {
		delete(m.objects, key)
		m.mutations = append(m.mutations, Mutation{Op: OpDelete, Key: key})
	}
	return nil
}

func (m *Memory) PutMarker(ctx context.Context, key string, metadata map[string]string, ifAbsent bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpPut, key); err != nil {
		return err
	}
	if _, exists := m.objects[key]; exists && ifAbsent {
		return fmt.Errorf("put %q: %w", key, ErrPreconditionFailed)
	}
	sum := md5.Sum(nil)
	m.objects[key] = memObject{etag: hex.EncodeToString(sum[:]), lastModified: m.now(), metadata: maps.Clone(metadata)}
	m.mutations = append(m.mutations, Mutation{Op: OpPut, Key: key})
	return nil
}
