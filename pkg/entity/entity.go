// Package entity defines the typed records maintained by the projector.
package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned when an entity has never been upserted (or was rolled back to absent).
var ErrNotFound = errors.New("entity not found")

// Fields holds entity field values keyed by field name.
// Values are *big.Int, common.Address, common.Hash, bool or string depending on the schema kind.
type Fields map[string]any

// Clone returns a copy of the fields. *big.Int values are copied so the clone is independent.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}

	out := make(Fields, len(f))
	for k, v := range f {
		if b, ok := v.(*big.Int); ok && b != nil {
			v = new(big.Int).Set(b)
		}
		out[k] = v
	}
	return out
}

// Merge overwrites the receiver's fields with every field present in update.
// Fields missing from update are kept.
func (f Fields) Merge(update Fields) Fields {
	out := f.Clone()
	if out == nil {
		out = make(Fields, len(update))
	}
	maps.Copy(out, update.Clone())
	return out
}

// Equal reports whether both field sets hold the same values.
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}

	for k, v := range f {
		ov, ok := other[k]
		if !ok {
			return false
		}
		if !valuesEqual(v, ov) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	ab, aok := a.(*big.Int)
	bb, bok := b.(*big.Int)
	if aok || bok {
		return aok && bok && ab != nil && bb != nil && ab.Cmp(bb) == 0
	}
	return a == b
}

// Entity is one record identified by (Type, ID).
type Entity struct {
	Type         string
	ID           string
	Fields       Fields
	UpdatedBlock uint64
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}

	return &Entity{
		Type:         e.Type,
		ID:           e.ID,
		Fields:       e.Fields.Clone(),
		UpdatedBlock: e.UpdatedBlock,
	}
}

// MarshalJSON encodes the entity with canonical field values.
func (e *Entity) MarshalJSON() ([]byte, error) {
	fields, err := EncodeFields(e.Fields)
	if err != nil {
		return nil, err
	}

	return json.Marshal(struct {
		Type         string          `json:"type"`
		ID           string          `json:"id"`
		Fields       json.RawMessage `json:"fields"`
		UpdatedBlock uint64          `json:"updated_block"`
	}{
		Type:         e.Type,
		ID:           e.ID,
		Fields:       fields,
		UpdatedBlock: e.UpdatedBlock,
	})
}

// EncodeFields encodes field values canonically: uint256 as a decimal string,
// addresses and hashes as 0x-prefixed hex, bools and strings as themselves.
// Keys are emitted in sorted order, so equal field sets encode to equal bytes.
func EncodeFields(fields Fields) ([]byte, error) {
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		switch val := v.(type) {
		case *big.Int:
			if val == nil {
				return nil, fmt.Errorf("field %s: nil uint256", name)
			}
			out[name] = val.String()
		case common.Address:
			out[name] = val.Hex()
		case common.Hash:
			out[name] = val.Hex()
		case bool, string:
			out[name] = val
		default:
			return nil, fmt.Errorf("field %s: unsupported value type %T", name, v)
		}
	}

	return json.Marshal(out)
}
