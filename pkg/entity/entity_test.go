package entity

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var testSchema = Schema{
	Type: "Listing",
	Fields: map[string]Kind{
		"price":  KindUint256,
		"seller": KindAddress,
		"sold":   KindBool,
		"label":  KindString,
		"ref":    KindBytes32,
	},
}

func TestFields_Merge(t *testing.T) {
	base := Fields{
		"price":  big.NewInt(1000),
		"seller": common.HexToAddress("0xBB"),
		"sold":   false,
	}

	merged := base.Merge(Fields{"sold": true})

	require.Equal(t, true, merged["sold"])
	require.Equal(t, common.HexToAddress("0xBB"), merged["seller"])
	require.Equal(t, 0, big.NewInt(1000).Cmp(merged["price"].(*big.Int)))

	// the receiver is left untouched
	require.Equal(t, false, base["sold"])
}

func TestFields_CloneIsDeep(t *testing.T) {
	price := big.NewInt(5)
	f := Fields{"price": price}

	clone := f.Clone()
	price.SetInt64(6)

	require.Equal(t, int64(5), clone["price"].(*big.Int).Int64())
	require.Nil(t, Fields(nil).Clone())
}

func TestFields_Equal(t *testing.T) {
	a := Fields{"price": big.NewInt(10), "sold": true}

	require.True(t, a.Equal(Fields{"price": big.NewInt(10), "sold": true}))
	require.False(t, a.Equal(Fields{"price": big.NewInt(11), "sold": true}))
	require.False(t, a.Equal(Fields{"price": big.NewInt(10)}))
	require.False(t, a.Equal(Fields{"price": "10", "sold": true}))
}

func TestSchema_Validate(t *testing.T) {
	tests := []struct {
		name    string
		fields  Fields
		wantErr string
	}{
		{
			name: "all kinds",
			fields: Fields{
				"price":  big.NewInt(1),
				"seller": common.HexToAddress("0x01"),
				"sold":   true,
				"label":  "x",
				"ref":    common.HexToHash("0x02"),
			},
		},
		{
			name:   "partial field set",
			fields: Fields{"sold": false},
		},
		{
			name:    "unknown field",
			fields:  Fields{"colour": "red"},
			wantErr: "unknown field",
		},
		{
			name:    "wrong type",
			fields:  Fields{"price": int64(5)},
			wantErr: "expected uint256",
		},
		{
			name:    "nil value",
			fields:  Fields{"label": nil},
			wantErr: "nil value",
		},
		{
			name:    "nil big int",
			fields:  Fields{"price": (*big.Int)(nil)},
			wantErr: "nil value",
		},
		{
			name:    "negative uint256",
			fields:  Fields{"price": big.NewInt(-1)},
			wantErr: "out of uint256 range",
		},
		{
			name:    "uint256 overflow",
			fields:  Fields{"price": new(big.Int).Lsh(big.NewInt(1), 256)},
			wantErr: "out of uint256 range",
		},
		{
			name:    "address as string",
			fields:  Fields{"seller": "0xBB"},
			wantErr: "expected address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := testSchema.Validate(tt.fields)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}

			var mismatch *SchemaMismatchError
			require.ErrorAs(t, err, &mismatch)
			require.Equal(t, "Listing", mismatch.EntityType)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEncodeDecodeFields(t *testing.T) {
	maxVal := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	fields := Fields{
		"price":  maxVal,
		"seller": common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		"sold":   true,
		"label":  "first",
		"ref":    common.HexToHash("0xff"),
	}

	data, err := EncodeFields(fields)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Equal(t, maxVal.String(), raw["price"])
	require.Equal(t, true, raw["sold"])

	decoded, err := testSchema.DecodeFields(data)
	require.NoError(t, err)
	require.True(t, fields.Equal(decoded))

	// canonical: encoding is stable for equal field sets
	again, err := EncodeFields(decoded)
	require.NoError(t, err)
	require.Equal(t, data, again)
}

func TestEncodeFields_Unsupported(t *testing.T) {
	_, err := EncodeFields(Fields{"n": 5})
	require.ErrorContains(t, err, "unsupported value type int")
}

func TestDecodeFields_Errors(t *testing.T) {
	_, err := testSchema.DecodeFields([]byte(`{"colour":"red"}`))
	var mismatch *SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))

	_, err = testSchema.DecodeFields([]byte(`{"price":"abc"}`))
	require.ErrorContains(t, err, "invalid uint256")

	_, err = testSchema.DecodeFields([]byte(`{"ref":"0x01"}`))
	require.ErrorContains(t, err, "invalid bytes32")

	_, err = testSchema.DecodeFields([]byte(`not json`))
	require.Error(t, err)
}

func TestEntity_MarshalJSON(t *testing.T) {
	e := &Entity{
		Type:         "Listing",
		ID:           "1",
		Fields:       Fields{"price": big.NewInt(1000), "sold": false},
		UpdatedBlock: 10,
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"Listing","id":"1","fields":{"price":"1000","sold":false},"updated_block":10}`, string(data))
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(testSchema)
	require.NoError(t, err)

	s, err := r.Schema("Listing")
	require.NoError(t, err)
	require.Equal(t, testSchema.Type, s.Type)

	_, err = r.Schema("Unknown")
	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "Unknown", mismatch.EntityType)

	require.ErrorContains(t, r.Register(testSchema), "already registered")
	require.ErrorContains(t, r.Register(Schema{Type: "Empty"}), "has no fields")
	require.ErrorContains(t, r.Register(Schema{Type: "Bad", Fields: map[string]Kind{"x": "int8"}}), "unsupported kind")

	require.NoError(t, r.Register(Schema{Type: "Account", Fields: map[string]Kind{"owner": KindAddress}}))
	require.Equal(t, []string{"Account", "Listing"}, r.Types())

	require.NoError(t, r.Validate("Account", Fields{"owner": common.Address{}}))
	require.Error(t, r.Validate("Account", Fields{"owner": true}))
}
