package rpc

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/ChainProjector/internal/common"
)

var (
	logLimitRe       = regexp.MustCompile(`Query returned more than \d+ results`)
	suggestedRangeRe = regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
)

// logLimit describes an eth_getLogs refusal because the range matched too many logs.
// Providers in the Infura/Alchemy family put a smaller range that fits in the error data,
// e.g. "Query returned more than 10000 results. Try with this block range [0x7dfd25, 0x7e0fcc]."
type logLimit struct {
	From, To  uint64
	Suggested bool
}

// asLogLimit reports whether err is a log limit refusal and parses the suggestion if any.
func asLogLimit(err error) (logLimit, bool) {
	var dataErr rpc.DataError
	if err == nil || !errors.As(err, &dataErr) {
		return logLimit{}, false
	}

	data := fmt.Sprint(dataErr.ErrorData())
	if !logLimitRe.MatchString(data) {
		return logLimit{}, false
	}

	limit := logLimit{}
	limit.From, limit.To, limit.Suggested = suggestedRange(data)
	return limit, true
}

func suggestedRange(msg string) (from, to uint64, ok bool) {
	m := suggestedRangeRe.FindStringSubmatch(msg)
	if m == nil {
		return 0, 0, false
	}

	from, errFrom := common.ParseUint64orHex(m[1])
	to, errTo := common.ParseUint64orHex(m[2])
	if errFrom != nil || errTo != nil || from > to {
		return 0, 0, false
	}
	return from, to, true
}
