package hpack

import (
	"fmt"

	cmerrors "github.com/NoZip/centimani/pkg/errors"
)

// IndexType classifies how (or whether) a header field is already present
// in a Context's combined static+dynamic index.
type IndexType int

const (
	IndexNone IndexType = iota
	IndexName
	IndexFull
)

// Context merges the 61-entry immutable static table with a mutable,
// FIFO dynamic table behind a single 1-based index space: indices
// 1..61 address the static table, 62.. address the dynamic table, newest
// entry first (RFC 7541 §2.3).
type Context struct {
	limit   int
	maxSize int

	dynamic []HeaderField
	size    int
}

// NewContext builds a Context whose protocol-negotiated size limit is
// limit (the SETTINGS_HEADER_TABLE_SIZE equivalent). maxSize, if
// positive, further restricts the table below limit; pass 0 to use limit
// as the initial max size.
func NewContext(limit int, maxSize int) *Context {
	if maxSize <= 0 || maxSize > limit {
		maxSize = limit
	}
	return &Context{limit: limit, maxSize: maxSize}
}

func entrySize(hf HeaderField) int {
	return 32 + len(hf.Name) + len(hf.Value)
}

// Len returns the total number of addressable entries, static plus
// dynamic.
func (c *Context) Len() int {
	return staticTableSize + len(c.dynamic)
}

// Size returns the current size, in HPACK accounting bytes, of the
// dynamic table only (the static table never counts against the limit).
func (c *Context) Size() int { return c.size }

// Limit returns the protocol-negotiated table size limit.
func (c *Context) Limit() int { return c.limit }

// SetLimit updates the protocol-negotiated limit, clamping MaxSize down
// if it now exceeds the new limit.
func (c *Context) SetLimit(value int) {
	c.limit = value
	if c.maxSize > c.limit {
		c.SetMaxSize(c.limit)
	}
}

// MaxSize returns the dynamic table's current maximum size.
func (c *Context) MaxSize() int { return c.maxSize }

// SetMaxSize sets the dynamic table's maximum size, evicting the oldest
// entries until the table fits. Returns an error if value exceeds the
// negotiated Limit.
func (c *Context) SetMaxSize(value int) error {
	if value > c.limit {
		return fmt.Errorf("hpack: max size must not exceed %d", c.limit)
	}
	c.maxSize = value
	for c.size > c.maxSize && len(c.dynamic) > 0 {
		c.evictOldest()
	}
	return nil
}

func (c *Context) evictOldest() {
	last := len(c.dynamic) - 1
	c.size -= entrySize(c.dynamic[last])
	c.dynamic = c.dynamic[:last]
}

// Get returns the header field at the given 1-based unified index.
func (c *Context) Get(index int) (HeaderField, error) {
	if index <= 0 {
		return HeaderField{}, cmerrors.NewHpackProtocolError("get", fmt.Errorf("index %d out of range", index))
	}
	i := index - 1
	if i < staticTableSize {
		return staticTable[i], nil
	}
	i -= staticTableSize
	if i >= len(c.dynamic) {
		return HeaderField{}, cmerrors.NewHpackProtocolError("get", fmt.Errorf("index %d out of range", index))
	}
	return c.dynamic[i], nil
}

// GetIndex reports how hf is indexed: IndexFull with the index of an
// exact name+value match, IndexName with the index of the first
// name-only match, or IndexNone.
func (c *Context) GetIndex(hf HeaderField) (IndexType, int) {
	for i := 0; i < staticTableSize; i++ {
		if staticTable[i] == hf {
			return IndexFull, i + 1
		}
	}
	for i, entry := range c.dynamic {
		if entry == hf {
			return IndexFull, staticTableSize + i + 1
		}
	}

	for i := 0; i < staticTableSize; i++ {
		if staticTable[i].Name == hf.Name {
			return IndexName, i + 1
		}
	}
	for i, entry := range c.dynamic {
		if entry.Name == hf.Name {
			return IndexName, staticTableSize + i + 1
		}
	}

	return IndexNone, 0
}

// Add inserts hf at the front of the dynamic table, evicting the oldest
// entries until it fits within MaxSize. An entry larger than MaxSize
// empties the whole dynamic table, per RFC 7541 §4.4.
func (c *Context) Add(hf HeaderField) {
	c.dynamic = append([]HeaderField{hf}, c.dynamic...)
	c.size += entrySize(hf)

	for c.size > c.maxSize && len(c.dynamic) > 0 {
		c.evictOldest()
	}
}
