package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Category names a kv namespace of the ledger.
type Category string

const (
	CategoryTxs      Category = "txs"
	CategoryEnv      Category = "env"
	CategoryMsgs     Category = "msgs"
	CategoryWasms    Category = "wasms"
	CategoryBlockmap Category = "blockmap"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryTxs, CategoryEnv, CategoryMsgs, CategoryWasms, CategoryBlockmap:
		return true
	}
	return false
}

// Module is the stored bytecode of a module item.
type Module struct {
	Format   string `json:"format"`
	Bytecode []byte `json:"bytecode"`
}

// marshalValue encodes a kv value as JSON without HTML escaping so stored
// tag values round-trip byte for byte.
func marshalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func unmarshalValue(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}
