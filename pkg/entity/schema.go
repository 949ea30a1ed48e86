package entity

import (
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Kind is the value type of one entity field.
type Kind string

const (
	KindUint256 Kind = "uint256"
	KindAddress Kind = "address"
	KindBool    Kind = "bool"
	KindString  Kind = "string"
	KindBytes32 Kind = "bytes32"
)

// maxUint256 is 2^256 - 1.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)) //nolint:mnd

// SchemaMismatchError reports a write that does not fit the entity schema.
// It is a programming error in a mapping and halts the pipeline.
type SchemaMismatchError struct {
	EntityType string
	Field      string
	Reason     string
}

func (e *SchemaMismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema mismatch for entity %s: %s", e.EntityType, e.Reason)
	}
	return fmt.Sprintf("schema mismatch for entity %s field %s: %s", e.EntityType, e.Field, e.Reason)
}

// Schema is the fixed field layout of one entity type.
type Schema struct {
	Type   string
	Fields map[string]Kind
}

// Validate checks that every given field exists in the schema and holds a value of the right kind.
// A partial field set is valid; absent fields are left untouched by upserts.
func (s Schema) Validate(fields Fields) error {
	for name, v := range fields {
		kind, ok := s.Fields[name]
		if !ok {
			return &SchemaMismatchError{EntityType: s.Type, Field: name, Reason: "unknown field"}
		}
		if reason := checkKind(kind, v); reason != "" {
			return &SchemaMismatchError{EntityType: s.Type, Field: name, Reason: reason}
		}
	}
	return nil
}

func checkKind(kind Kind, v any) string {
	if v == nil {
		return "nil value"
	}

	switch kind {
	case KindUint256:
		b, ok := v.(*big.Int)
		if !ok {
			return fmt.Sprintf("expected uint256 (*big.Int), got %T", v)
		}
		if b == nil {
			return "nil value"
		}
		if b.Sign() < 0 || b.Cmp(maxUint256) > 0 {
			return fmt.Sprintf("value %s out of uint256 range", b)
		}
	case KindAddress:
		if _, ok := v.(common.Address); !ok {
			return fmt.Sprintf("expected address, got %T", v)
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("expected bool, got %T", v)
		}
	case KindString:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("expected string, got %T", v)
		}
	case KindBytes32:
		if _, ok := v.(common.Hash); !ok {
			return fmt.Sprintf("expected bytes32, got %T", v)
		}
	default:
		return fmt.Sprintf("unsupported kind %q", kind)
	}

	return ""
}

// DecodeFields parses a canonical JSON field set produced by EncodeFields.
func (s Schema) DecodeFields(data []byte) (Fields, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode %s fields: %w", s.Type, err)
	}

	fields := make(Fields, len(raw))
	for name, msg := range raw {
		kind, ok := s.Fields[name]
		if !ok {
			return nil, &SchemaMismatchError{EntityType: s.Type, Field: name, Reason: "unknown stored field"}
		}

		v, err := decodeValue(kind, msg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s field %s: %w", s.Type, name, err)
		}
		fields[name] = v
	}

	return fields, nil
}

func decodeValue(kind Kind, msg json.RawMessage) (any, error) {
	if kind == KindBool {
		var b bool
		err := json.Unmarshal(msg, &b)
		return b, err
	}

	var str string
	if err := json.Unmarshal(msg, &str); err != nil {
		return nil, err
	}

	switch kind {
	case KindUint256:
		b, ok := new(big.Int).SetString(str, 10) //nolint:mnd
		if !ok {
			return nil, fmt.Errorf("invalid uint256 %q", str)
		}
		return b, nil
	case KindAddress:
		if !common.IsHexAddress(str) {
			return nil, fmt.Errorf("invalid address %q", str)
		}
		return common.HexToAddress(str), nil
	case KindBytes32:
		b, err := hexutil.Decode(str)
		if err != nil || len(b) != common.HashLength {
			return nil, fmt.Errorf("invalid bytes32 %q", str)
		}
		return common.BytesToHash(b), nil
	case KindString:
		return str, nil
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}
}

// Registry maps entity types to their schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry creates a registry holding the given schemas.
func NewRegistry(schemas ...Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[string]Schema)}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a schema. Registering the same type twice is an error.
func (r *Registry) Register(s Schema) error {
	if s.Type == "" {
		return fmt.Errorf("entity schema without type")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("entity schema %s has no fields", s.Type)
	}
	for name, kind := range s.Fields {
		if !kind.valid() {
			return fmt.Errorf("entity schema %s field %s: unsupported kind %q", s.Type, name, kind)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[s.Type]; exists {
		return fmt.Errorf("entity schema %s already registered", s.Type)
	}
	r.schemas[s.Type] = s
	return nil
}

func (kind Kind) valid() bool {
	switch kind {
	case KindUint256, KindAddress, KindBool, KindString, KindBytes32:
		return true
	default:
		return false
	}
}

// Schema returns the schema of an entity type; an unknown type is a SchemaMismatchError.
func (r *Registry) Schema(entityType string) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[entityType]
	if !ok {
		return Schema{}, &SchemaMismatchError{EntityType: entityType, Reason: "unknown entity type"}
	}
	return s, nil
}

// Validate checks fields against the schema of entityType.
func (r *Registry) Validate(entityType string, fields Fields) error {
	s, err := r.Schema(entityType)
	if err != nil {
		return err
	}
	return s.Validate(fields)
}

// Types returns the registered entity types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
