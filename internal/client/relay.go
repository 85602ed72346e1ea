package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AlexZinkM/pet-wallet/internal/model"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Relay JSON-RPC methods
const (
	MethodPrepareUpgradeAccount = "wallet_prepareUpgradeAccount"
	MethodUpgradeAccount        = "wallet_upgradeAccount"
	MethodPrepareCalls          = "wallet_prepareCalls"
	MethodSendPreparedCalls     = "wallet_sendPreparedCalls"
	MethodGetCallsStatus        = "wallet_getCallsStatus"
)

const codeInvalidParams = -32602

// Caller is the JSON-RPC transport. *rpc.Client satisfies it.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// RelayClient talks to the gas-sponsoring relay. It holds no
// per-request state and is safe for concurrent use.
type RelayClient struct {
	rpc      Caller
	chainID  uint64
	feeToken common.Address
	policy   RetryPolicy
	logger   *zap.Logger
}

// RelayOption configures a RelayClient
type RelayOption func(*RelayClient)

// WithRelayLogger sets the logger
func WithRelayLogger(logger *zap.Logger) RelayOption {
	return func(c *RelayClient) {
		c.logger = logger
	}
}

// WithRetryPolicy overrides DefaultRetryPolicy
func WithRetryPolicy(policy RetryPolicy) RelayOption {
	return func(c *RelayClient) {
		c.policy = policy
	}
}

// NewRelayClient creates a relay client over an existing transport
func NewRelayClient(caller Caller, chainID uint64, feeToken common.Address, opts ...RelayOption) (*RelayClient, error) {
	c := &RelayClient{
		rpc:      caller,
		chainID:  chainID,
		feeToken: feeToken,
		policy:   DefaultRetryPolicy,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.policy.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// DialRelay connects to a relay over HTTP
func DialRelay(ctx context.Context, relayURL string, chainID uint64, feeToken common.Address, opts ...RelayOption) (*RelayClient, error) {
	rpcClient, err := rpc.DialOptions(ctx, relayURL, rpc.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}))
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}
	return NewRelayClient(rpcClient, chainID, feeToken, opts...)
}

type prepareUpgradeParams struct {
	Address      common.Address      `json:"address"`
	Delegation   common.Address      `json:"delegation"`
	Capabilities upgradeCapabilities `json:"capabilities"`
	ChainID      uint64              `json:"chainId"`
}

type upgradeCapabilities struct {
	AuthorizeKeys []KeyAuthorization `json:"authorizeKeys"`
}

type prepareUpgradeResult struct {
	Context json.RawMessage `json:"context"`
	Digests struct {
		Auth common.Hash `json:"auth"`
		Exec common.Hash `json:"exec"`
	} `json:"digests"`
	TypedData json.RawMessage `json:"typedData"`
}

// PrepareDelegate asks the relay for the digests binding owner to the delegation target
func (c *RelayClient) PrepareDelegate(ctx context.Context, owner, target common.Address, keys ...KeyAuthorization) (*DelegationContext, error) {
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return nil, err
		}
	}

	params := prepareUpgradeParams{
		Address:      owner,
		Delegation:   target,
		Capabilities: upgradeCapabilities{AuthorizeKeys: keys},
		ChainID:      c.chainID,
	}
	if params.Capabilities.AuthorizeKeys == nil {
		params.Capabilities.AuthorizeKeys = []KeyAuthorization{}
	}

	var result prepareUpgradeResult
	if err := c.call(ctx, &result, MethodPrepareUpgradeAccount, params); err != nil {
		return nil, err
	}
	if len(result.Context) == 0 || result.Digests.Auth == (common.Hash{}) || result.Digests.Exec == (common.Hash{}) {
		return nil, fmt.Errorf("%w: %s returned an incomplete delegation context", model.ErrInvalidParams, MethodPrepareUpgradeAccount)
	}

	return &DelegationContext{
		Owner:      owner,
		Target:     target,
		AuthDigest: result.Digests.Auth,
		ExecDigest: result.Digests.Exec,
		TypedData:  result.TypedData,
		Raw:        result.Context,
	}, nil
}

type upgradeParams struct {
	Context    json.RawMessage      `json:"context"`
	Signatures DelegationSignatures `json:"signatures"`
}

// CommitDelegate registers the signed delegation off-chain. It does not
// deploy anything; deployment happens with the first intent.
func (c *RelayClient) CommitDelegate(ctx context.Context, dc *DelegationContext, sigs DelegationSignatures) error {
	if dc == nil {
		return fmt.Errorf("%w: nil delegation context", model.ErrInvalidParams)
	}
	if !dc.consumed.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: delegation context for %s was already committed", model.ErrInvalidParams, dc.Owner.Hex())
	}

	var ack json.RawMessage
	if err := c.call(ctx, &ack, MethodUpgradeAccount, upgradeParams{Context: dc.Raw, Signatures: sigs}); err != nil {
		return err
	}
	return nil
}

type wireCall struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value string         `json:"value"`
}

type prepareCallsParams struct {
	Calls        []wireCall        `json:"calls"`
	Capabilities callsCapabilities `json:"capabilities"`
	ChainID      uint64            `json:"chainId"`
	From         common.Address    `json:"from"`
	Key          KeyDescriptor     `json:"key"`
}

type callsCapabilities struct {
	Meta callsMeta `json:"meta"`
}

type callsMeta struct {
	FeeToken common.Address   `json:"feeToken"`
	Accounts []common.Address `json:"accounts"`
}

type prepareCallsResult struct {
	Digest    *common.Hash    `json:"digest"`
	TypedData json.RawMessage `json:"typedData"`
	Context   json.RawMessage `json:"context"`
	Key       *KeyDescriptor  `json:"key"`
}

// PrepareCalls asks the relay to quote and wrap calls into an intent for key
func (c *RelayClient) PrepareCalls(ctx context.Context, from common.Address, calls []model.PreparedCall, key KeyDescriptor) (*PreparedIntent, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("%w: no calls to prepare", model.ErrInvalidParams)
	}

	wire := make([]wireCall, 0, len(calls))
	for _, call := range calls {
		wire = append(wire, wireCall{
			To:    call.To,
			Data:  call.Data,
			Value: call.ValueOrZero().Hex(),
		})
	}

	params := prepareCallsParams{
		Calls: wire,
		Capabilities: callsCapabilities{Meta: callsMeta{
			FeeToken: c.feeToken,
			Accounts: []common.Address{from},
		}},
		ChainID: c.chainID,
		From:    from,
		Key:     key,
	}

	var result prepareCallsResult
	if err := c.call(ctx, &result, MethodPrepareCalls, params); err != nil {
		return nil, err
	}
	if len(result.Context) == 0 {
		return nil, fmt.Errorf("%w: %s returned no context", model.ErrInvalidParams, MethodPrepareCalls)
	}

	intent := &PreparedIntent{
		Digest:    result.Digest,
		TypedData: result.TypedData,
		Context:   result.Context,
		Key:       key,
	}
	if result.Key != nil {
		intent.Key = *result.Key
	}
	return intent, nil
}

type sendPreparedParams struct {
	Context   json.RawMessage `json:"context"`
	Key       KeyDescriptor   `json:"key"`
	Signature hexutil.Bytes   `json:"signature"`
}

type sendPreparedResult struct {
	ID string `json:"id"`
}

// SendPreparedCalls submits a signed intent and returns its bundle id
func (c *RelayClient) SendPreparedCalls(ctx context.Context, intentContext json.RawMessage, key KeyDescriptor, signature []byte) (string, error) {
	var result sendPreparedResult
	params := sendPreparedParams{Context: intentContext, Key: key, Signature: signature}
	if err := c.call(ctx, &result, MethodSendPreparedCalls, params); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: %s returned an empty bundle id", model.ErrInvalidParams, MethodSendPreparedCalls)
	}
	return result.ID, nil
}

type wireLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

type wireReceipt struct {
	Logs            []wireLog      `json:"logs"`
	Status          hexutil.Uint64 `json:"status"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	GasUsed         hexutil.Uint64 `json:"gasUsed"`
	TransactionHash common.Hash    `json:"transactionHash"`
}

type callsStatusResult struct {
	Status   int           `json:"status"`
	Receipts []wireReceipt `json:"receipts"`
}

// GetCallsStatus reads a bundle's status with a single attempt. The
// caller's poll loop owns the check budget, so a transient failure here
// is returned as ErrNetwork instead of being retried.
func (c *RelayClient) GetCallsStatus(ctx context.Context, bundleID string) (*CallsStatus, error) {
	var result callsStatusResult
	if err := c.callOnce(ctx, &result, MethodGetCallsStatus, bundleID); err != nil {
		return nil, err
	}

	receipts := make([]model.Receipt, 0, len(result.Receipts))
	for _, r := range result.Receipts {
		logs := make([]model.Log, 0, len(r.Logs))
		for _, l := range r.Logs {
			logs = append(logs, model.Log{Address: l.Address, Topics: l.Topics, Data: l.Data})
		}
		receipts = append(receipts, model.Receipt{
			TxHash:      r.TransactionHash,
			BlockNumber: uint64(r.BlockNumber),
			Success:     r.Status == 1,
			GasUsed:     uint64(r.GasUsed),
			Logs:        logs,
		})
	}

	return &CallsStatus{
		Code:     result.Status,
		State:    StateForCode(result.Status),
		Receipts: receipts,
	}, nil
}

// call runs one JSON-RPC request under the retry policy. Only transient
// network faults are retried; exhausting attempts yields ErrTimeout.
func (c *RelayClient) call(ctx context.Context, result interface{}, method string, params interface{}) error {
	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		classified := c.callOnce(ctx, result, method, params)
		if classified == nil {
			return struct{}{}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return struct{}{}, backoff.Permanent(ctxErr)
		}
		if !errors.Is(classified, model.ErrNetwork) {
			return struct{}{}, backoff.Permanent(classified)
		}

		c.logger.Warn("transient relay failure",
			zap.String("method", method),
			zap.Int("attempt", attempts),
			zap.Error(classified),
		)
		return struct{}{}, classified
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.backOff()),
		backoff.WithMaxTries(uint(c.policy.MaxAttempts)),
	)
	if err == nil {
		c.logger.Debug("relay call ok", zap.String("method", method), zap.Int("attempts", attempts))
		return nil
	}
	if errors.Is(err, model.ErrNetwork) {
		return fmt.Errorf("%w: %s after %d attempts: %w", model.ErrTimeout, method, attempts, err)
	}
	return err
}

// callOnce sends one request and classifies its failure
func (c *RelayClient) callOnce(ctx context.Context, result interface{}, method string, params interface{}) error {
	if err := c.rpc.CallContext(ctx, result, method, params); err != nil {
		return classifyRelayError(method, err)
	}
	return nil
}

func (c *RelayClient) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.policy.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxInterval = 16 * c.policy.BaseDelay
	return b
}

// classifyRelayError sorts transport failures into retryable network
// errors and non-retryable relay rejections.
func classifyRelayError(method string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s: %w", model.ErrNetwork, method, err)
		}
		return &model.RelayRejectedError{Method: method, Code: httpErr.StatusCode, Reason: httpErr.Status}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		rejected := &model.RelayRejectedError{Method: method, Code: rpcErr.ErrorCode(), Reason: rpcErr.Error()}
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) {
			if data, ok := dataErr.ErrorData().(string); ok && data != "" {
				rejected.Reason += ": " + data
			}
		}
		if rejected.Code == codeInvalidParams {
			return fmt.Errorf("%w: %w", model.ErrInvalidParams, rejected)
		}
		return rejected
	}

	return fmt.Errorf("%w: %s: %w", model.ErrNetwork, method, err)
}
