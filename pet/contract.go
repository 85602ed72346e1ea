// Package pet encodes calls and decodes results for the Pet contract.
package pet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/AlexZinkM/pet-wallet/internal/client"
	"github.com/AlexZinkM/pet-wallet/internal/model"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

const maxNameLength = 32

// Reader performs read-only contract calls. *client.ChainClient satisfies it.
type Reader interface {
	Read(ctx context.Context, call client.CallDescriptor) ([]byte, error)
}

// Contract is a deployed Pet contract
type Contract struct {
	Address common.Address
	abi     abi.ABI
}

// Stats mirrors getPetStats
type Stats struct {
	Name      string
	Level     *big.Int
	XP        *big.Int
	Happiness *big.Int
	Hunger    *big.Int
	IsAlive   bool
	WinStreak *big.Int
}

func New(address common.Address) (*Contract, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("%w: pet contract address is empty", model.ErrInvalidParams)
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pet ABI: %w", err)
	}
	return &Contract{Address: address, abi: parsed}, nil
}

// CreatePet builds a createPet call
func (c *Contract) CreatePet(name string) (model.PreparedCall, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.PreparedCall{}, fmt.Errorf("%w: pet name is required", model.ErrInvalidParams)
	}
	if len(name) > maxNameLength {
		return model.PreparedCall{}, fmt.Errorf("%w: pet name longer than %d bytes", model.ErrInvalidParams, maxNameLength)
	}
	return c.call(methodCreatePet, name)
}

// FeedPet builds a feedPet call
func (c *Contract) FeedPet() (model.PreparedCall, error) {
	return c.call(methodFeedPet)
}

// PlayWithPet builds a playWithPet call
func (c *Contract) PlayWithPet() (model.PreparedCall, error) {
	return c.call(methodPlayWithPet)
}

func (c *Contract) call(method string, args ...interface{}) (model.PreparedCall, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return model.PreparedCall{}, fmt.Errorf("failed to encode %s: %w", method, err)
	}
	// Sponsored calls never carry value
	return model.PreparedCall{To: c.Address, Data: data, Value: new(uint256.Int)}, nil
}

// SessionPermissions are the calls a session key may make on this contract
func (c *Contract) SessionPermissions() []client.Permission {
	methods := []string{methodCreatePet, methodFeedPet, methodPlayWithPet}
	perms := make([]client.Permission, 0, len(methods))
	for _, name := range methods {
		perms = append(perms, client.Permission{
			Type:     client.PermissionCall,
			Selector: hexutil.Encode(c.abi.Methods[name].ID),
			To:       c.Address,
		})
	}
	return perms
}

// HasPet reports whether owner has a pet
func (c *Contract) HasPet(ctx context.Context, r Reader, owner common.Address) (bool, error) {
	values, err := c.read(ctx, r, methodHasPet, owner)
	if err != nil {
		return false, err
	}
	has, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected %s result type %T", methodHasPet, values[0])
	}
	return has, nil
}

// Stats returns the owner's pet
func (c *Contract) Stats(ctx context.Context, r Reader, owner common.Address) (*Stats, error) {
	values, err := c.read(ctx, r, methodGetPetStats, owner)
	if err != nil {
		return nil, err
	}
	if len(values) != 7 {
		return nil, fmt.Errorf("unexpected %s result length %d", methodGetPetStats, len(values))
	}

	stats := &Stats{}
	var ok bool
	if stats.Name, ok = values[0].(string); !ok {
		return nil, fmt.Errorf("unexpected pet name type %T", values[0])
	}
	counters := []**big.Int{&stats.Level, &stats.XP, &stats.Happiness, &stats.Hunger}
	for i, dst := range counters {
		if *dst, ok = values[i+1].(*big.Int); !ok {
			return nil, fmt.Errorf("unexpected pet stat type %T", values[i+1])
		}
	}
	if stats.IsAlive, ok = values[5].(bool); !ok {
		return nil, fmt.Errorf("unexpected isAlive type %T", values[5])
	}
	if stats.WinStreak, ok = values[6].(*big.Int); !ok {
		return nil, fmt.Errorf("unexpected winStreak type %T", values[6])
	}
	return stats, nil
}

func (c *Contract) read(ctx context.Context, r Reader, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}
	out, err := r.Read(ctx, client.CallDescriptor{To: c.Address, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty %s result", method)
	}
	return values, nil
}
