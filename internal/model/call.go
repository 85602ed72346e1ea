package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PreparedCall describes one contract invocation. Callers build it;
// nothing downstream modifies it.
type PreparedCall struct {
	To    common.Address
	Data  []byte
	Value *uint256.Int
}

// ValueOrZero returns the call value, treating nil as zero
func (c PreparedCall) ValueOrZero() *uint256.Int {
	if c.Value == nil {
		return new(uint256.Int)
	}
	return c.Value
}

// Log is a contract event attached to a receipt
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    []byte         `json:"data"`
}

// Receipt is the path-independent view of an included transaction
type Receipt struct {
	TxHash      common.Hash `json:"transactionHash"`
	BlockNumber uint64      `json:"blockNumber"`
	Success     bool        `json:"success"`
	GasUsed     uint64      `json:"gasUsed"`
	Logs        []Log       `json:"logs"`
}
