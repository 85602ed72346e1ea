package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	appcommon "github.com/AlexZinkM/pet-wallet/internal/common"
	"github.com/AlexZinkM/pet-wallet/internal/model"
	"github.com/AlexZinkM/pet-wallet/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// BalanceReader reads native balances. *client.ChainClient satisfies it.
type BalanceReader interface {
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
}

// PriceReader quotes ETH in a fiat currency. *client.PriceClient satisfies it.
type PriceReader interface {
	Currency() string
	EtherRate(ctx context.Context) (string, error)
}

// WalletHandler exposes the owner and session accounts
type WalletHandler struct {
	wallet  *wallet.Wallet
	chain   BalanceReader
	prices  PriceReader
	chainID uint64
	logger  *zap.Logger
}

// WalletOption configures a WalletHandler
type WalletOption func(*WalletHandler)

// WithPrices adds a fiat value to the owner balance
func WithPrices(prices PriceReader) WalletOption {
	return func(h *WalletHandler) {
		h.prices = prices
	}
}

func NewWalletHandler(w *wallet.Wallet, chain BalanceReader, chainID uint64, logger *zap.Logger, opts ...WalletOption) (*WalletHandler, error) {
	if w == nil || chain == nil {
		return nil, errors.New("wallet handler dependencies are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WalletHandler{wallet: w, chain: chain, chainID: chainID, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Owner handles GET /wallet/owner
// @Summary      Get owner account
// @Description  Returns the owner address, its balance (with fiat value when a price source is configured) and a funding QR code (EIP-681 URI, base64 PNG)
// @Tags         wallet
// @Produce      json
// @Success      200  {object}  model.OwnerResponse
// @Failure      503  {object}  model.ErrorResponse
// @Router       /wallet/owner [get]
func (h *WalletHandler) Owner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. Should be GET", http.StatusMethodNotAllowed)
		return
	}

	owner, ok := h.wallet.Owner()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, model.CodeStorageUnavailable, wallet.ErrOwnerNotReady)
		return
	}

	balance, err := h.chain.Balance(r.Context(), owner.Address)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	qr, err := generateQRCode(fmt.Sprintf("ethereum:%s@%d", owner.Address.Hex(), h.chainID))
	if err != nil {
		writeMappedError(w, err)
		return
	}

	resp := model.OwnerResponse{
		Address: owner.Address.Hex(),
		Balance: appcommon.WeiToEther(balance),
		QR:      qr,
		State:   h.wallet.State().String(),
	}
	h.addFiat(r.Context(), &resp)

	writeJSON(w, http.StatusOK, resp)
}

// addFiat is best effort: a price outage never fails the balance
func (h *WalletHandler) addFiat(ctx context.Context, resp *model.OwnerResponse) {
	if h.prices == nil {
		return
	}
	rate, err := h.prices.EtherRate(ctx)
	if err != nil {
		h.logger.Warn("failed to get ETH rate", zap.Error(err))
		return
	}

	// float only for display, never for amounts that get signed
	ethFloat, err := strconv.ParseFloat(resp.Balance, 64)
	if err != nil {
		h.logger.Warn("failed to parse balance for fiat value", zap.String("balance", resp.Balance), zap.Error(err))
		return
	}
	rateFloat, err := strconv.ParseFloat(rate, 64)
	if err != nil {
		h.logger.Warn("failed to parse ETH rate", zap.String("rate", rate), zap.Error(err))
		return
	}

	resp.Currency = h.prices.Currency()
	resp.Rate = rate
	resp.Fiat = fmt.Sprintf("%.2f", ethFloat*rateFloat)
}

// RotateSession handles POST /wallet/session
// @Summary      Rotate session key
// @Description  Discards the current session key and creates a new one valid for 24h. The next action re-authorizes it with the relay.
// @Tags         wallet
// @Produce      json
// @Success      200  {object}  model.SessionResponse
// @Failure      503  {object}  model.ErrorResponse
// @Router       /wallet/session [post]
func (h *WalletHandler) RotateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed. Should be POST", http.StatusMethodNotAllowed)
		return
	}

	session, err := h.wallet.InitSession(r.Context())
	if err != nil {
		h.logger.Error("session rotation failed", zap.Error(err))
		if errors.Is(err, wallet.ErrOwnerNotReady) {
			writeError(w, http.StatusServiceUnavailable, model.CodeStorageUnavailable, err)
			return
		}
		writeMappedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.SessionResponse{
		Address:   session.Address.Hex(),
		CreatedAt: session.CreatedAt.Format(time.RFC3339),
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	})
}

// generateQRCode generates QR code of content in base64
func generateQRCode(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate PNG: %w", err)
	}

	return base64.StdEncoding.EncodeToString(png), nil
}
