package pet

import (
	"github.com/AlexZinkM/pet-wallet/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

// Created is a decoded PetCreated event
type Created struct {
	Owner common.Address
	Name  string
}

// CreatedEvents extracts PetCreated events emitted by this contract.
// Logs that fail to decode are skipped.
func (c *Contract) CreatedEvents(receipts []model.Receipt) []Created {
	event := c.abi.Events[eventPetCreated]

	var out []Created
	for _, receipt := range receipts {
		for _, log := range receipt.Logs {
			if log.Address != c.Address || len(log.Topics) != 2 || log.Topics[0] != event.ID {
				continue
			}
			values, err := event.Inputs.NonIndexed().Unpack(log.Data)
			if err != nil || len(values) != 1 {
				continue
			}
			name, ok := values[0].(string)
			if !ok {
				continue
			}
			out = append(out, Created{
				Owner: common.BytesToAddress(log.Topics[1].Bytes()),
				Name:  name,
			})
		}
	}
	return out
}

// CreatedLog builds the log a PetCreated emission produces
func (c *Contract) CreatedLog(owner common.Address, name string) (model.Log, error) {
	event := c.abi.Events[eventPetCreated]
	data, err := event.Inputs.NonIndexed().Pack(name)
	if err != nil {
		return model.Log{}, err
	}
	return model.Log{
		Address: c.Address,
		Topics:  []common.Hash{event.ID, common.BytesToHash(owner.Bytes())},
		Data:    data,
	}, nil
}
