package db

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("hash", HashMeddler{})
}

// HashMeddler stores common.Hash as 0x-prefixed hex text. NULL reads as the zero hash.
type HashMeddler struct{}

func (HashMeddler) PreRead(fieldAddr any) (any, error) {
	return new(sql.NullString), nil
}

func (HashMeddler) PostRead(fieldAddr, scanTarget any) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("hash meddler: unexpected scan target %T", scanTarget)
	}

	dst, ok := fieldAddr.(*common.Hash)
	if !ok {
		return fmt.Errorf("hash meddler: unsupported field %T", fieldAddr)
	}

	*dst = common.Hash{}
	if ns.Valid {
		*dst = common.HexToHash(ns.String)
	}
	return nil
}

func (HashMeddler) PreWrite(field any) (any, error) {
	hash, ok := field.(common.Hash)
	if !ok {
		return nil, fmt.Errorf("hash meddler: unsupported field %T", field)
	}
	return hash.Hex(), nil
}
