package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	appcommon "github.com/AlexZinkM/pet-wallet/internal/common"
	"github.com/AlexZinkM/pet-wallet/internal/model"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// delegationCodePrefix marks an EIP-7702 delegated EOA
var delegationCodePrefix = []byte{0xef, 0x01, 0x00}

// Backend is the subset of ethclient.Client the direct path needs
type Backend interface {
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TxSigner signs transactions without exposing the key
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, signer types.Signer) (*types.Transaction, error)
}

// CallDescriptor is a read-only contract call
type CallDescriptor struct {
	To   common.Address
	Data []byte
}

// ChainClient reads chain state and submits self-funded transactions
type ChainClient struct {
	backend Backend
	chainID *big.Int
	signer  types.Signer
	logger  *zap.Logger
}

// NewChainClient creates a direct chain client for chainID
func NewChainClient(backend Backend, chainID uint64, logger *zap.Logger) *ChainClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := new(big.Int).SetUint64(chainID)
	return &ChainClient{
		backend: backend,
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
		logger:  logger,
	}
}

// DialChain connects to a node and checks it serves chainID
func DialChain(ctx context.Context, rpcURL string, chainID uint64, logger *zap.Logger) (*ChainClient, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}

	remote, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("%w: failed to read chain id: %w", model.ErrNetwork, err)
	}
	if remote.Uint64() != chainID {
		ec.Close()
		return nil, fmt.Errorf("rpc serves chain %s, expected %d", remote, chainID)
	}
	return NewChainClient(ec, chainID, logger), nil
}

// Read performs an unsigned eth_call at the latest block
func (c *ChainClient) Read(ctx context.Context, call CallDescriptor) ([]byte, error) {
	to := call.To
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: call.Data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// Balance returns the latest balance in wei
func (c *ChainClient) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// IsDelegated reports whether account carries EIP-7702 delegation code
func (c *ChainClient) IsDelegated(ctx context.Context, account common.Address) (bool, error) {
	code, err := c.backend.CodeAt(ctx, account, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get code: %w", err)
	}
	return bytes.HasPrefix(code, delegationCodePrefix), nil
}

// SendSigned builds, signs and broadcasts an EIP-1559 transaction from
// signer, then blocks until it is mined. gasLimit 0 means estimate.
// A balance that cannot cover value plus max fee is ErrInsufficientFunds,
// never retried.
func (c *ChainClient) SendSigned(ctx context.Context, signer TxSigner, to common.Address, data []byte, value *big.Int, gasLimit uint64) (*model.Receipt, error) {
	from := signer.Address()
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get nonce: %w", model.ErrNetwork, err)
	}

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to suggest tip: %w", model.ErrNetwork, err)
	}

	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get head: %w", model.ErrNetwork, err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	if gasLimit == 0 {
		gasLimit, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data, Value: value})
		if err != nil {
			if isInsufficientFunds(err) {
				return nil, fmt.Errorf("%w: %w", model.ErrInsufficientFunds, err)
			}
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	// Check sufficiency (value + gas * max fee)
	required := new(big.Int).Add(value, new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), feeCap))
	balance, err := c.Balance(ctx, from)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: %s needs %s ETH, has %s ETH",
			model.ErrInsufficientFunds, from.Hex(), appcommon.WeiToEther(required), appcommon.WeiToEther(balance))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signed, err := signer.SignTx(tx, c.signer)
	if err != nil {
		return nil, err
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		if isInsufficientFunds(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrInsufficientFunds, err)
		}
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Info("direct transaction sent",
		zap.String("tx", signed.Hash().Hex()),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gasLimit),
		zap.String("maxFee", bigToHex(feeCap)),
	)

	mined, err := bind.WaitMined(ctx, c.backend, signed)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for %s: %w", signed.Hash().Hex(), err)
	}

	receipt := convertReceipt(mined)
	if !receipt.Success {
		return receipt, fmt.Errorf("%w: %s", model.ErrReverted, signed.Hash().Hex())
	}
	return receipt, nil
}

func convertReceipt(r *types.Receipt) *model.Receipt {
	logs := make([]model.Log, 0, len(r.Logs))
	for _, l := range r.Logs {
		logs = append(logs, model.Log{Address: l.Address, Topics: l.Topics, Data: l.Data})
	}
	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}
	return &model.Receipt{
		TxHash:      r.TxHash,
		BlockNumber: block,
		Success:     r.Status == types.ReceiptStatusSuccessful,
		GasUsed:     r.GasUsed,
		Logs:        logs,
	}
}

// isInsufficientFunds matches both the node's error string and core's sentinel text
func isInsufficientFunds(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrInsufficientFunds) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}

func bigToHex(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(v)
}
