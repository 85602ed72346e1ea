package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AlexZinkM/pet-wallet/internal/client"
	"github.com/AlexZinkM/pet-wallet/internal/keystore"
	"github.com/AlexZinkM/pet-wallet/internal/model"
	"github.com/AlexZinkM/pet-wallet/internal/orchestrator"
	"github.com/AlexZinkM/pet-wallet/internal/storage"
	"github.com/AlexZinkM/pet-wallet/internal/wallet"
	"github.com/AlexZinkM/pet-wallet/pet"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var petAddress = common.HexToAddress("0x000000000000000000000000000000000000fe70")

type fakeSubmitter struct {
	record *orchestrator.TransactionRecord
	err    error
	calls  []model.PreparedCall
}

func (f *fakeSubmitter) Submit(_ context.Context, calls []model.PreparedCall) (*orchestrator.TransactionRecord, error) {
	f.calls = calls
	return f.record, f.err
}

type fakeReader struct {
	hasPet bool
	err    error
}

func (f *fakeReader) Read(_ context.Context, call client.CallDescriptor) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	boolT, _ := abi.NewType("bool", "", nil)
	stringT, _ := abi.NewType("string", "", nil)
	uintT, _ := abi.NewType("uint256", "", nil)
	if len(call.Data) == 4+32 && isSelector(call.Data, "hasPet(address)") {
		return abi.Arguments{{Type: boolT}}.Pack(f.hasPet)
	}
	return abi.Arguments{{Type: stringT}, {Type: uintT}, {Type: uintT}, {Type: uintT}, {Type: uintT}, {Type: boolT}, {Type: uintT}}.
		Pack("Fluffy", big.NewInt(2), big.NewInt(50), big.NewInt(90), big.NewInt(5), true, big.NewInt(1))
}

type fakeBalance struct {
	balance *big.Int
	err     error
}

func (f *fakeBalance) Balance(context.Context, common.Address) (*big.Int, error) {
	return f.balance, f.err
}

func newTestWallet(t *testing.T, initOwner bool) *wallet.Wallet {
	t.Helper()
	items := storage.NewMemory()
	w := wallet.New(keystore.New(items), items)
	if initOwner {
		_, err := w.InitOwner(context.Background())
		require.NoError(t, err)
	}
	return w
}

func newPetHandler(t *testing.T, sub Submitter, reader pet.Reader, w *wallet.Wallet) *PetHandler {
	t.Helper()
	contract, err := pet.New(petAddress)
	require.NoError(t, err)
	h, err := NewPetHandler(sub, contract, reader, w, zaptest.NewLogger(t))
	require.NoError(t, err)
	return h
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var resp model.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("direct: %w", model.ErrInsufficientFunds), http.StatusPaymentRequired, model.CodeInsufficientFunds},
		{fmt.Errorf("poll: %w", model.ErrTimeout), http.StatusGatewayTimeout, model.CodeTimeout},
		{&model.RelayRejectedError{Method: "wallet_prepareCalls", Code: -32000, Reason: "nope"}, http.StatusBadGateway, model.CodeRelayRejected},
		{fmt.Errorf("bundle: %w", model.ErrBundleFailed), http.StatusUnprocessableEntity, model.CodeBundleFailed},
		{fmt.Errorf("load: %w", model.ErrStorageUnavailable), http.StatusServiceUnavailable, model.CodeStorageUnavailable},
		{model.ErrInvalidParams, http.StatusBadRequest, model.CodeInvalidRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError, model.CodeInternal},
		{&orchestrator.FallbackError{Relay: model.ErrTimeout, Direct: model.ErrInsufficientFunds}, http.StatusPaymentRequired, model.CodeInsufficientFunds},
		{&orchestrator.FallbackError{Relay: model.ErrTimeout, Direct: model.ErrReverted}, http.StatusInternalServerError, model.CodeInternal},
	}

	for _, tt := range tests {
		status, code := statusForError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestCreate(t *testing.T) {
	w := newTestWallet(t, true)
	owner, _ := w.Owner()
	contract, err := pet.New(petAddress)
	require.NoError(t, err)
	createdLog, err := contract.CreatedLog(owner.Address, "Fluffy")
	require.NoError(t, err)

	sub := &fakeSubmitter{record: &orchestrator.TransactionRecord{
		Path:     orchestrator.PathRelay,
		BundleID: "0xabc",
		State:    orchestrator.Success,
		History:  []orchestrator.State{orchestrator.Pending, orchestrator.Success},
		Receipts: []model.Receipt{{Success: true, Logs: []model.Log{createdLog}}},
	}}
	h := newPetHandler(t, sub, &fakeReader{}, w)

	req := httptest.NewRequest(http.MethodPost, "/pet/create", strings.NewReader(`{"name":"Fluffy"}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.TransactionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "relay", resp.Path)
	assert.Equal(t, "0xabc", resp.BundleID)
	assert.Equal(t, "success", resp.State)
	assert.Equal(t, []string{"pending", "success"}, resp.History)
	require.Len(t, resp.PetEvents, 1)
	assert.Contains(t, resp.PetEvents[0], "Fluffy")

	require.Len(t, sub.calls, 1)
	assert.Equal(t, petAddress, sub.calls[0].To)
}

func TestCreateValidation(t *testing.T) {
	h := newPetHandler(t, &fakeSubmitter{}, &fakeReader{}, newTestWallet(t, true))

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/pet/create", strings.NewReader(`{"name":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.CodeInvalidRequest, decodeError(t, rec).Code)

	rec = httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/pet/create", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodGet, "/pet/create", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFeedInsufficientFunds(t *testing.T) {
	sub := &fakeSubmitter{err: fmt.Errorf("relay path failed (x), direct path: %w", model.ErrInsufficientFunds)}
	h := newPetHandler(t, sub, &fakeReader{}, newTestWallet(t, true))

	rec := httptest.NewRecorder()
	h.Feed(rec, httptest.NewRequest(http.MethodPost, "/pet/feed", nil))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, model.CodeInsufficientFunds, decodeError(t, rec).Code)
}

func TestPlayTimeoutReturnsRecord(t *testing.T) {
	sub := &fakeSubmitter{
		record: &orchestrator.TransactionRecord{
			Path:     orchestrator.PathRelay,
			BundleID: "0xslow",
			State:    orchestrator.TimedOut,
			History:  []orchestrator.State{orchestrator.Pending, orchestrator.TimedOut},
		},
		err: fmt.Errorf("poll: %w", model.ErrTimeout),
	}
	h := newPetHandler(t, sub, &fakeReader{}, newTestWallet(t, true))

	rec := httptest.NewRecorder()
	h.Play(rec, httptest.NewRequest(http.MethodPost, "/pet/play", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, model.CodeTimeout, rec.Header().Get("X-Error-Code"))
	var resp model.TransactionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "timed_out", resp.State)
	assert.Equal(t, "0xslow", resp.BundleID)
	assert.NotNil(t, resp.Receipts)
}

func TestStats(t *testing.T) {
	w := newTestWallet(t, true)
	owner, _ := w.Owner()

	t.Run("no pet", func(t *testing.T) {
		h := newPetHandler(t, &fakeSubmitter{}, &fakeReader{hasPet: false}, w)
		rec := httptest.NewRecorder()
		h.Stats(rec, httptest.NewRequest(http.MethodGet, "/pet/stats", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp model.PetStatsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.False(t, resp.HasPet)
		assert.Equal(t, owner.Address.Hex(), resp.Owner)
	})

	t.Run("with pet", func(t *testing.T) {
		h := newPetHandler(t, &fakeSubmitter{}, &fakeReader{hasPet: true}, w)
		rec := httptest.NewRecorder()
		h.Stats(rec, httptest.NewRequest(http.MethodGet, "/pet/stats", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp model.PetStatsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp.HasPet)
		assert.Equal(t, "Fluffy", resp.Name)
		assert.Equal(t, "2", resp.Level)
		assert.Equal(t, "50", resp.XP)
		assert.True(t, resp.IsAlive)
	})

	t.Run("read failure", func(t *testing.T) {
		h := newPetHandler(t, &fakeSubmitter{}, &fakeReader{err: model.ErrNetwork}, w)
		rec := httptest.NewRecorder()
		h.Stats(rec, httptest.NewRequest(http.MethodGet, "/pet/stats", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestOwner(t *testing.T) {
	w := newTestWallet(t, true)
	owner, _ := w.Owner()
	h, err := NewWalletHandler(w, &fakeBalance{balance: big.NewInt(1500000000000000000)}, 84532, zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Owner(rec, httptest.NewRequest(http.MethodGet, "/wallet/owner", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.OwnerResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, owner.Address.Hex(), resp.Address)
	assert.Equal(t, "1.500000000000000000", resp.Balance)
	assert.Equal(t, "owner_ready", resp.State)

	png, err := base64.StdEncoding.DecodeString(resp.QR)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestOwnerNotInitialized(t *testing.T) {
	h, err := NewWalletHandler(newTestWallet(t, false), &fakeBalance{balance: big.NewInt(0)}, 1, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Owner(rec, httptest.NewRequest(http.MethodGet, "/wallet/owner", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRotateSession(t *testing.T) {
	w := newTestWallet(t, true)
	h, err := NewWalletHandler(w, &fakeBalance{balance: big.NewInt(0)}, 1, zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.RotateSession(rec, httptest.NewRequest(http.MethodPost, "/wallet/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var first model.SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&first))
	session, ok := w.Session()
	require.True(t, ok)
	assert.Equal(t, session.Address.Hex(), first.Address)
	assert.Equal(t, wallet.SessionReady, w.State())

	rec = httptest.NewRecorder()
	h.RotateSession(rec, httptest.NewRequest(http.MethodPost, "/wallet/session", nil))
	var second model.SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&second))
	assert.NotEqual(t, first.Address, second.Address)
}

func isSelector(data []byte, signature string) bool {
	return string(data[:4]) == string(crypto.Keccak256([]byte(signature))[:4])
}

type fakePrices struct {
	rate string
	err  error
}

func (f *fakePrices) Currency() string { return "usd" }

func (f *fakePrices) EtherRate(context.Context) (string, error) {
	return f.rate, f.err
}

func TestOwnerFiatValue(t *testing.T) {
	w := newTestWallet(t, true)
	balance := &fakeBalance{balance: big.NewInt(2000000000000000000)}

	h, err := NewWalletHandler(w, balance, 1, zaptest.NewLogger(t), WithPrices(&fakePrices{rate: "3000.50"}))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.Owner(rec, httptest.NewRequest(http.MethodGet, "/wallet/owner", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.OwnerResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "usd", resp.Currency)
	assert.Equal(t, "3000.50", resp.Rate)
	assert.Equal(t, "6001.00", resp.Fiat)

	// price outage still returns the balance
	h, err = NewWalletHandler(w, balance, 1, zaptest.NewLogger(t), WithPrices(&fakePrices{err: fmt.Errorf("status 429")}))
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	h.Owner(rec, httptest.NewRequest(http.MethodGet, "/wallet/owner", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp = model.OwnerResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "2.000000000000000000", resp.Balance)
	assert.Empty(t, resp.Fiat)

	// a malformed rate is skipped, not reported as zero
	h, err = NewWalletHandler(w, balance, 1, zaptest.NewLogger(t), WithPrices(&fakePrices{rate: "n/a"}))
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	h.Owner(rec, httptest.NewRequest(http.MethodGet, "/wallet/owner", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp = model.OwnerResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "2.000000000000000000", resp.Balance)
	assert.Empty(t, resp.Currency)
	assert.Empty(t, resp.Rate)
	assert.Empty(t, resp.Fiat)
}
