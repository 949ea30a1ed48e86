package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	"github.com/stretchr/testify/require"
)

const erc20ABIJSON = `[
	{"type":"event","name":"Transfer","inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"Paused","inputs":[]}
]`

var (
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	pausedTopic   = crypto.Keccak256Hash([]byte("Paused()"))
	token         = common.HexToAddress("0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	from          = common.HexToAddress("0x0000000000000000000000000000000000000001")
	to            = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func newTestDecoder(t *testing.T) *ABIDecoder {
	t.Helper()

	parsed, err := ParseABI([]byte(erc20ABIJSON))
	require.NoError(t, err)

	d, err := New(logger.NewNopLogger(), parsed)
	require.NoError(t, err)
	return d
}

func transferLog(value *big.Int) types.Log {
	return types.Log{
		Address:     token,
		Topics:      []common.Hash{transferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		TxHash:      common.HexToHash("0xabc"),
		BlockHash:   common.HexToHash("0xb10c"),
		BlockNumber: 100,
		Index:       3,
	}
}

func TestABIDecoder_Topics(t *testing.T) {
	d := newTestDecoder(t)

	topics := d.Topics()
	require.Len(t, topics, 2)
	require.ElementsMatch(t, []common.Hash{transferTopic, pausedTopic}, topics)
	require.Equal(t, topics, d.Topics(), "order is stable")
}

func TestABIDecoder_DecodeTransfer(t *testing.T) {
	d := newTestDecoder(t)
	value := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000))

	ev, err := d.Decode(transferLog(value))
	require.NoError(t, err)

	require.Equal(t, "Transfer", ev.Name)
	require.Equal(t, uint64(100), ev.BlockNumber)
	require.Equal(t, uint32(3), ev.LogIndex)
	require.Equal(t, token, ev.Address)
	require.Equal(t, common.HexToHash("0xb10c"), ev.BlockHash)
	require.Equal(t, from, ev.Params["from"])
	require.Equal(t, to, ev.Params["to"])
	require.Equal(t, 0, value.Cmp(ev.Params["value"].(*big.Int)))
}

func TestABIDecoder_DecodeWithoutArguments(t *testing.T) {
	d := newTestDecoder(t)

	ev, err := d.Decode(types.Log{Address: token, Topics: []common.Hash{pausedTopic}, BlockNumber: 5})
	require.NoError(t, err)
	require.Equal(t, "Paused", ev.Name)
	require.Empty(t, ev.Params)
}

func TestABIDecoder_DecodeErrors(t *testing.T) {
	d := newTestDecoder(t)

	removed := transferLog(big.NewInt(1))
	removed.Removed = true

	truncated := transferLog(big.NewInt(1))
	truncated.Data = truncated.Data[:10]

	missingTopic := transferLog(big.NewInt(1))
	missingTopic.Topics = missingTopic.Topics[:2]

	unknown := transferLog(big.NewInt(1))
	unknown.Topics[0] = common.HexToHash("0xdead")

	noTopics := transferLog(big.NewInt(1))
	noTopics.Topics = nil

	tests := []struct {
		name   string
		log    types.Log
		reason string
	}{
		{name: "removed", log: removed, reason: "removed"},
		{name: "no topics", log: noTopics, reason: "no topics"},
		{name: "unknown signature", log: unknown, reason: "unknown event signature"},
		{name: "missing indexed topic", log: missingTopic, reason: "expects 2 indexed topics"},
		{name: "truncated data", log: truncated, reason: "malformed data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode(tt.log)

			var decodeErr *event.DecodeError
			require.ErrorAs(t, err, &decodeErr)
			require.Contains(t, decodeErr.Reason, tt.reason)
			require.Equal(t, uint64(100), decodeErr.BlockNumber)
			require.Equal(t, uint(3), decodeErr.LogIndex)
		})
	}
}

func TestNew_ConflictingABIs(t *testing.T) {
	parsed, err := ParseABI([]byte(erc20ABIJSON))
	require.NoError(t, err)

	_, err = New(logger.NewNopLogger(), parsed, parsed)
	require.NoError(t, err, "the same ABI twice is fine")

	_, err = ParseABI([]byte("not json"))
	require.Error(t, err)
}
