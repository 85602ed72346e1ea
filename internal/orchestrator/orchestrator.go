// Package orchestrator submits call batches through the relay and falls
// back to self-funded transactions when the relay path cannot be used.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/AlexZinkM/pet-wallet/internal/client"
	appcommon "github.com/AlexZinkM/pet-wallet/internal/common"
	"github.com/AlexZinkM/pet-wallet/internal/model"
	"github.com/AlexZinkM/pet-wallet/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Relay is the gas-sponsoring protocol client
type Relay interface {
	wallet.DelegationRelay
	PrepareCalls(ctx context.Context, from common.Address, calls []model.PreparedCall, key client.KeyDescriptor) (*client.PreparedIntent, error)
	SendPreparedCalls(ctx context.Context, intentContext json.RawMessage, key client.KeyDescriptor, signature []byte) (string, error)
	GetCallsStatus(ctx context.Context, bundleID string) (*client.CallsStatus, error)
}

// Chain is the direct, self-funded path
type Chain interface {
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	IsDelegated(ctx context.Context, account common.Address) (bool, error)
	SendSigned(ctx context.Context, signer client.TxSigner, to common.Address, data []byte, value *big.Int, gasLimit uint64) (*model.Receipt, error)
}

// Config holds the routing settings
type Config struct {
	RelayEnabled bool
	// Delegation is the contract the owner delegates to
	Delegation common.Address
	Policy     client.RetryPolicy
	// PrefundThreshold in wei; nil or zero disables the check
	PrefundThreshold *big.Int
}

// Orchestrator carries no per-submission state and is safe for concurrent use
type Orchestrator struct {
	wallet *wallet.Wallet
	relay  Relay
	chain  Chain
	cfg    Config
	logger *zap.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New wires an orchestrator. relay may be nil when the relay is disabled;
// chain may be nil when there is no direct path.
func New(w *wallet.Wallet, relay Relay, chain Chain, cfg Config, opts ...Option) (*Orchestrator, error) {
	if w == nil {
		return nil, errors.New("wallet is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.RelayEnabled && relay == nil {
		return nil, errors.New("relay enabled but no relay client given")
	}
	if relay == nil && chain == nil {
		return nil, errors.New("at least one submission path is required")
	}

	o := &Orchestrator{
		wallet: w,
		relay:  relay,
		chain:  chain,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Submit sends calls as one intent and blocks until the record is
// terminal. A relay failure before a bundle id exists falls back to the
// direct path; a failed bundle never does.
func (o *Orchestrator) Submit(ctx context.Context, calls []model.PreparedCall) (*TransactionRecord, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("%w: no calls to submit", model.ErrInvalidParams)
	}

	if o.cfg.RelayEnabled {
		record, err := o.submitRelay(ctx, calls)
		if err == nil || record != nil {
			return record, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if o.chain == nil {
			return nil, err
		}
		o.logger.Warn("relay path unavailable, falling back to direct transactions", zap.Error(err))

		record, directErr := o.submitDirect(ctx, calls)
		if directErr != nil {
			return record, &FallbackError{Relay: err, Direct: directErr}
		}
		return record, nil
	}

	return o.submitDirect(ctx, calls)
}

// submitRelay returns a nil record for every error raised before the
// relay issued a bundle id.
func (o *Orchestrator) submitRelay(ctx context.Context, calls []model.PreparedCall) (*TransactionRecord, error) {
	session, err := o.wallet.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}
	if o.wallet.State() != wallet.Delegated {
		if err := o.wallet.AuthorizeDelegation(ctx, o.relay, o.cfg.Delegation); err != nil {
			return nil, err
		}
	}
	owner, ok := o.wallet.Owner()
	if !ok {
		return nil, wallet.ErrOwnerNotReady
	}

	o.probeDelegation(ctx, owner.Address)
	o.checkPrefund(ctx, owner.Address)

	key := client.Secp256k1Key(session.Address)
	intent, err := o.relay.PrepareCalls(ctx, owner.Address, calls, key)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare calls: %w", err)
	}

	signer, err := o.wallet.SessionSigner()
	if err != nil {
		return nil, err
	}
	if signer.Address() != session.Address {
		return nil, fmt.Errorf("%w: session rotated during submission", model.ErrSessionExpired)
	}
	digest, err := intent.SigningHash()
	if err != nil {
		return nil, err
	}
	signature, err := signer.SignHash(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign intent: %w", err)
	}

	if len(intent.Key.PublicKey) != 0 {
		key = intent.Key
	}
	bundleID, err := o.relay.SendPreparedCalls(ctx, intent.Context, key, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to send prepared calls: %w", err)
	}

	record := newRecord(PathRelay, bundleID)
	o.logger.Info("intent accepted by relay",
		zap.String("bundleId", bundleID),
		zap.String("owner", owner.Address.Hex()),
		zap.Int("calls", len(calls)),
	)

	if err := o.poll(ctx, record); err != nil {
		return record, err
	}
	if err := o.wallet.MarkDeployed(ctx); err != nil {
		o.logger.Warn("failed to record delegation deployment", zap.Error(err))
	}
	return record, nil
}

// poll checks the bundle once per interval, starting immediately. Each
// check gets at most one interval, so MaxStatusChecks checks end within
// MaxStatusChecks intervals whatever the relay does.
func (o *Orchestrator) poll(ctx context.Context, record *TransactionRecord) error {
	policy := o.cfg.Policy
	timer := time.NewTimer(0)
	defer timer.Stop()

	var lastErr error
	for check := 1; check <= policy.MaxStatusChecks; check++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		started := time.Now()
		status, err := o.checkStatus(ctx, record.BundleID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			o.logger.Warn("status check failed",
				zap.String("bundleId", record.BundleID),
				zap.Int("check", check),
				zap.Error(err),
			)
		case status.State == client.CallSuccess:
			record.Receipts = status.Receipts
			if err := record.transition(Success); err != nil {
				return err
			}
			o.logger.Info("bundle confirmed",
				zap.String("bundleId", record.BundleID),
				zap.Int("check", check),
			)
			return nil
		case status.State == client.CallFailed:
			record.Receipts = status.Receipts
			if err := record.transition(Failed); err != nil {
				return err
			}
			return fmt.Errorf("%w: bundle %s returned status %d", model.ErrBundleFailed, record.BundleID, status.Code)
		default:
			o.logger.Debug("bundle pending",
				zap.String("bundleId", record.BundleID),
				zap.Int("check", check),
				zap.Int("status", status.Code),
			)
		}

		timer.Reset(max(0, policy.PollInterval-time.Since(started)))
	}

	if err := record.transition(TimedOut); err != nil {
		return err
	}
	if lastErr != nil {
		return fmt.Errorf("%w: bundle %s unresolved after %d checks, last error: %v", model.ErrTimeout, record.BundleID, policy.MaxStatusChecks, lastErr)
	}
	return fmt.Errorf("%w: bundle %s unresolved after %d checks", model.ErrTimeout, record.BundleID, policy.MaxStatusChecks)
}

func (o *Orchestrator) checkStatus(ctx context.Context, bundleID string) (*client.CallsStatus, error) {
	checkCtx, cancel := context.WithTimeout(ctx, o.cfg.Policy.PollInterval)
	defer cancel()
	return o.relay.GetCallsStatus(checkCtx, bundleID)
}

// submitDirect signs with the owner key and sends each call in order.
// The record exists once the first transaction was broadcast.
func (o *Orchestrator) submitDirect(ctx context.Context, calls []model.PreparedCall) (*TransactionRecord, error) {
	if o.chain == nil {
		return nil, errors.New("direct path not configured")
	}
	signer, err := o.wallet.OwnerSigner()
	if err != nil {
		return nil, err
	}

	var record *TransactionRecord
	for i, call := range calls {
		receipt, err := o.chain.SendSigned(ctx, signer, call.To, call.Data, call.ValueOrZero().ToBig(), 0)
		if receipt != nil {
			if record == nil {
				record = newRecord(PathDirect, "")
			}
			record.Receipts = append(record.Receipts, *receipt)
		}
		if err != nil {
			if record != nil && ctx.Err() == nil {
				if terr := record.transition(Failed); terr != nil {
					return record, terr
				}
			}
			return record, fmt.Errorf("direct call %d/%d: %w", i+1, len(calls), err)
		}
	}

	if record == nil {
		record = newRecord(PathDirect, "")
	}
	if err := record.transition(Success); err != nil {
		return record, err
	}
	o.logger.Info("direct transactions confirmed",
		zap.String("owner", signer.Address().Hex()),
		zap.Int("calls", len(calls)),
	)
	return record, nil
}

// probeDelegation only logs: the first intent deploys the delegation
func (o *Orchestrator) probeDelegation(ctx context.Context, owner common.Address) {
	if o.chain == nil || o.wallet.DelegationDeployed() {
		return
	}
	deployed, err := o.chain.IsDelegated(ctx, owner)
	if err != nil {
		o.logger.Warn("failed to probe delegation code", zap.String("owner", owner.Hex()), zap.Error(err))
		return
	}
	if !deployed {
		o.logger.Info("submitting through relay", zap.String("owner", owner.Hex()), zap.Error(model.ErrDelegationNotReady))
		return
	}
	if err := o.wallet.MarkDeployed(ctx); err != nil {
		o.logger.Warn("failed to record delegation deployment", zap.Error(err))
	}
}

func (o *Orchestrator) checkPrefund(ctx context.Context, owner common.Address) {
	threshold := o.cfg.PrefundThreshold
	if o.chain == nil || threshold == nil || threshold.Sign() <= 0 {
		return
	}
	balance, err := o.chain.Balance(ctx, owner)
	if err != nil {
		o.logger.Warn("failed to check owner balance", zap.Error(err))
		return
	}
	if balance.Cmp(threshold) < 0 {
		o.logger.Warn("owner balance below prefund threshold",
			zap.String("owner", owner.Hex()),
			zap.String("balanceEth", appcommon.WeiToEther(balance)),
			zap.String("thresholdEth", appcommon.WeiToEther(threshold)),
		)
	}
}
