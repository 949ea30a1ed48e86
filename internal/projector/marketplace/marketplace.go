// Package marketplace projects NFT marketplace events into MarketItem entities.
package marketplace

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/goran-ethernal/ChainProjector/internal/decoder"
	"github.com/goran-ethernal/ChainProjector/internal/projector"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
)

const (
	// EntityType is the entity type written by this package.
	EntityType = "MarketItem"

	// MarketItemCreated is the event listing an item for sale.
	MarketItemCreated = "MarketItemCreated"
)

//go:embed abi/Marketplace.json
var marketplaceABI []byte

// marketItemFields are copied verbatim from MarketItemCreated params.
var marketItemFields = []string{"itemId", "nftContract", "tokenId", "seller", "owner", "price", "sold"}

// Schema is the MarketItem entity layout.
var Schema = entity.Schema{
	Type: EntityType,
	Fields: map[string]entity.Kind{
		"itemId":      entity.KindUint256,
		"nftContract": entity.KindAddress,
		"tokenId":     entity.KindUint256,
		"seller":      entity.KindAddress,
		"owner":       entity.KindAddress,
		"price":       entity.KindUint256,
		"sold":        entity.KindBool,
	},
}

// ABI returns the parsed marketplace contract ABI.
func ABI() (abi.ABI, error) {
	return decoder.ParseABI(marketplaceABI)
}

// Register adds the MarketItem schema to registry and the marketplace mappings to p.
// It returns the ABI the decoder needs for the registered events.
func Register(p *projector.Projector, registry *entity.Registry) (abi.ABI, error) {
	parsed, err := ABI()
	if err != nil {
		return abi.ABI{}, err
	}

	if err := registry.Register(Schema); err != nil {
		return abi.ABI{}, err
	}

	if err := p.Register(MarketItemCreated, HandleMarketItemCreated); err != nil {
		return abi.ABI{}, err
	}

	return parsed, nil
}

// HandleMarketItemCreated loads the MarketItem keyed by the decimal itemId, creating it when
// absent, copies every event field that is present and saves it.
func HandleMarketItemCreated(ctx context.Context, ev *event.Event, w projector.EntityWriter) error {
	raw, ok := ev.Param("itemId")
	if !ok {
		return &entity.SchemaMismatchError{EntityType: EntityType, Field: "itemId", Reason: "event carries no itemId"}
	}
	itemID, ok := raw.(*big.Int)
	if !ok || itemID == nil {
		return &entity.SchemaMismatchError{
			EntityType: EntityType,
			Field:      "itemId",
			Reason:     fmt.Sprintf("expected uint256 (*big.Int), got %T", raw),
		}
	}
	id := itemID.String()

	fields := make(entity.Fields, len(marketItemFields))
	existing, err := w.Get(ctx, EntityType, id)
	switch {
	case err == nil:
		fields = existing.Fields.Clone()
	case !errors.Is(err, entity.ErrNotFound):
		return fmt.Errorf("failed to load %s %s: %w", EntityType, id, err)
	}

	for _, name := range marketItemFields {
		if v, present := ev.Param(name); present {
			fields[name] = v
		}
	}

	return w.Upsert(ctx, EntityType, id, fields)
}
