package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AlexZinkM/pet-wallet/internal/client"
	"github.com/AlexZinkM/pet-wallet/internal/keystore"
	"github.com/AlexZinkM/pet-wallet/internal/model"
	"github.com/AlexZinkM/pet-wallet/internal/storage"
	"github.com/AlexZinkM/pet-wallet/internal/wallet"
	"github.com/AlexZinkM/pet-wallet/pet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

var (
	petAddress        = common.HexToAddress("0x000000000000000000000000000000000000fe70")
	delegationAddress = common.HexToAddress("0x00000000000000000000000000000000000d1e6a")
)

var fastPolicy = client.RetryPolicy{
	MaxAttempts:     1,
	BaseDelay:       time.Millisecond,
	PollInterval:    time.Millisecond,
	MaxStatusChecks: 30,
}

// fakeRelay answers every protocol call in memory
type fakeRelay struct {
	prepareErr error
	sendErr    error
	// delegateGate holds PrepareDelegate until closed
	delegateGate chan struct{}
	// statuses is consulted per bundle check; the last entry repeats
	statuses func(check int) (*client.CallsStatus, error)

	mu       sync.Mutex
	bundles  int
	checks   map[string]int
	signed   [][]byte
	from     []common.Address
	keys     []client.KeyDescriptor
	commits   atomic.Int32
	prepares  atomic.Int32
	delegates atomic.Int32
}

func newFakeRelay(statuses func(check int) (*client.CallsStatus, error)) *fakeRelay {
	return &fakeRelay{statuses: statuses, checks: map[string]int{}}
}

func (r *fakeRelay) PrepareDelegate(ctx context.Context, owner, target common.Address, _ ...client.KeyAuthorization) (*client.DelegationContext, error) {
	r.delegates.Add(1)
	if r.delegateGate != nil {
		select {
		case <-r.delegateGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &client.DelegationContext{
		Owner:      owner,
		Target:     target,
		AuthDigest: crypto.Keccak256Hash([]byte("auth")),
		ExecDigest: crypto.Keccak256Hash([]byte("exec")),
	}, nil
}

func (r *fakeRelay) CommitDelegate(context.Context, *client.DelegationContext, client.DelegationSignatures) error {
	r.commits.Add(1)
	return nil
}

func (r *fakeRelay) PrepareCalls(_ context.Context, from common.Address, calls []model.PreparedCall, key client.KeyDescriptor) (*client.PreparedIntent, error) {
	r.prepares.Add(1)
	if r.prepareErr != nil {
		return nil, r.prepareErr
	}
	digest := crypto.Keccak256Hash(calls[0].Data, from.Bytes())
	r.mu.Lock()
	r.from = append(r.from, from)
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	return &client.PreparedIntent{
		Digest:  &digest,
		Context: json.RawMessage(`{"quote":"opaque"}`),
		Key:     key,
	}, nil
}

func (r *fakeRelay) SendPreparedCalls(_ context.Context, _ json.RawMessage, _ client.KeyDescriptor, signature []byte) (string, error) {
	if r.sendErr != nil {
		return "", r.sendErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles++
	r.signed = append(r.signed, signature)
	return "0xbundle" + string(rune('0'+r.bundles)), nil
}

func (r *fakeRelay) GetCallsStatus(_ context.Context, bundleID string) (*client.CallsStatus, error) {
	r.mu.Lock()
	r.checks[bundleID]++
	check := r.checks[bundleID]
	r.mu.Unlock()
	return r.statuses(check)
}

func (r *fakeRelay) checksFor(bundleID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checks[bundleID]
}

type fakeChain struct {
	balance   *big.Int
	delegated bool
	sendErr   error
	receipt   *model.Receipt

	mu    sync.Mutex
	sent  []common.Address
	froms []common.Address
}

func (c *fakeChain) Balance(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int).Set(c.balance), nil
}

func (c *fakeChain) IsDelegated(context.Context, common.Address) (bool, error) {
	return c.delegated, nil
}

func (c *fakeChain) SendSigned(_ context.Context, signer client.TxSigner, to common.Address, _ []byte, _ *big.Int, _ uint64) (*model.Receipt, error) {
	c.mu.Lock()
	c.sent = append(c.sent, to)
	c.froms = append(c.froms, signer.Address())
	c.mu.Unlock()
	if c.sendErr != nil {
		return c.receipt, c.sendErr
	}
	if c.balance.Sign() == 0 {
		return nil, model.ErrInsufficientFunds
	}
	return &model.Receipt{TxHash: crypto.Keccak256Hash(to.Bytes()), BlockNumber: 7, Success: true}, nil
}

func success(receipts ...model.Receipt) *client.CallsStatus {
	return &client.CallsStatus{Code: client.StatusSuccess, State: client.CallSuccess, Receipts: receipts}
}

func pending() *client.CallsStatus {
	return &client.CallsStatus{Code: client.StatusPending, State: client.CallPending}
}

func newWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	items := storage.NewMemory()
	w := wallet.New(keystore.New(items), items, wallet.WithLogger(zaptest.NewLogger(t)))
	_, err := w.InitOwner(context.Background())
	require.NoError(t, err)
	return w
}

func newOrchestrator(t *testing.T, w *wallet.Wallet, relay Relay, chain Chain, relayEnabled bool) *Orchestrator {
	t.Helper()
	o, err := New(w, relay, chain, Config{
		RelayEnabled: relayEnabled,
		Delegation:   delegationAddress,
		Policy:       fastPolicy,
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return o
}

func newPet(t *testing.T) *pet.Contract {
	t.Helper()
	c, err := pet.New(petAddress)
	require.NoError(t, err)
	return c
}

func TestNewValidates(t *testing.T) {
	w := newWallet(t)

	_, err := New(w, nil, &fakeChain{balance: big.NewInt(0)}, Config{RelayEnabled: true, Policy: fastPolicy})
	assert.Error(t, err)

	_, err = New(w, nil, nil, Config{Policy: fastPolicy})
	assert.Error(t, err)

	_, err = New(w, newFakeRelay(nil), nil, Config{RelayEnabled: true})
	assert.Error(t, err)
}

// a fresh owner with no session creates a pet through the relay
func TestSubmit_FreshOwnerCreatesPet(t *testing.T) {
	ctx := context.Background()
	w := newWallet(t)
	contract := newPet(t)
	owner, _ := w.Owner()

	createdLog, err := contract.CreatedLog(owner.Address, "Fluffy")
	require.NoError(t, err)
	relay := newFakeRelay(func(check int) (*client.CallsStatus, error) {
		if check < 3 {
			return pending(), nil
		}
		return success(model.Receipt{Success: true, BlockNumber: 9, Logs: []model.Log{createdLog}}), nil
	})
	chain := &fakeChain{balance: big.NewInt(0)}
	o := newOrchestrator(t, w, relay, chain, true)

	call, err := contract.CreatePet("Fluffy")
	require.NoError(t, err)
	record, err := o.Submit(ctx, []model.PreparedCall{call})
	require.NoError(t, err)

	assert.Equal(t, PathRelay, record.Path)
	assert.Equal(t, Success, record.State)
	assert.Equal(t, []State{Pending, Success}, record.History)
	assert.Equal(t, 3, relay.checksFor(record.BundleID))

	events := contract.CreatedEvents(record.Receipts)
	require.Len(t, events, 1)
	assert.Equal(t, owner.Address, events[0].Owner)
	assert.Equal(t, "Fluffy", events[0].Name)

	assert.Equal(t, wallet.Delegated, w.State())
	assert.True(t, w.DelegationDeployed())
	assert.EqualValues(t, 1, relay.commits.Load())
	assert.Empty(t, chain.sent, "relay path must not touch the direct path")

	// the intent is sent from the owner and signed by the session key
	session, _ := w.Session()
	require.Len(t, relay.from, 1)
	assert.Equal(t, owner.Address, relay.from[0])
	assert.Equal(t, client.Secp256k1Key(session.Address), relay.keys[0])

	digest := crypto.Keccak256Hash(call.Data, owner.Address.Bytes())
	sig := append([]byte(nil), relay.signed[0]...)
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	require.NoError(t, err)
	assert.Equal(t, session.Address, crypto.PubkeyToAddress(*pub))
}

// the relay rejects the send and the unfunded owner cannot pay directly
func TestSubmit_RejectedFallsBackAndNeedsFunds(t *testing.T) {
	ctx := context.Background()
	w := newWallet(t)
	owner, _ := w.Owner()
	relay := newFakeRelay(nil)
	relay.sendErr = &model.RelayRejectedError{Method: client.MethodSendPreparedCalls, Code: -32000, Reason: "account not delegated"}
	chain := &fakeChain{balance: big.NewInt(0)}
	o := newOrchestrator(t, w, relay, chain, true)

	call, err := newPet(t).FeedPet()
	require.NoError(t, err)
	record, err := o.Submit(ctx, []model.PreparedCall{call})

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	assert.Nil(t, record)

	var fallback *FallbackError
	require.ErrorAs(t, err, &fallback)
	assert.ErrorIs(t, fallback.Direct, model.ErrInsufficientFunds)
	var rejected *model.RelayRejectedError
	require.ErrorAs(t, err, &rejected, "the relay cause survives the fallback")
	assert.Equal(t, "account not delegated", rejected.Reason)
	require.Len(t, chain.froms, 1)
	assert.Equal(t, owner.Address, chain.froms[0], "fallback signs with the owner key")
}

func TestSubmit_RejectedFallsBackWithFunds(t *testing.T) {
	ctx := context.Background()
	w := newWallet(t)
	relay := newFakeRelay(nil)
	relay.prepareErr = model.ErrTimeout
	chain := &fakeChain{balance: big.NewInt(1e18)}
	o := newOrchestrator(t, w, relay, chain, true)

	feed, err := newPet(t).FeedPet()
	require.NoError(t, err)
	play, err := newPet(t).PlayWithPet()
	require.NoError(t, err)

	record, err := o.Submit(ctx, []model.PreparedCall{feed, play})
	require.NoError(t, err)
	assert.Equal(t, PathDirect, record.Path)
	assert.Equal(t, Success, record.State)
	assert.Len(t, record.Receipts, 2)
	assert.Empty(t, record.BundleID)
}

// success on exactly the last allowed check
func TestSubmit_ResolvesOnLastCheck(t *testing.T) {
	w := newWallet(t)
	relay := newFakeRelay(func(check int) (*client.CallsStatus, error) {
		if check < 30 {
			return pending(), nil
		}
		return success(), nil
	})
	o := newOrchestrator(t, w, relay, &fakeChain{balance: big.NewInt(0)}, true)

	call, err := newPet(t).FeedPet()
	require.NoError(t, err)
	record, err := o.Submit(context.Background(), []model.PreparedCall{call})
	require.NoError(t, err)
	assert.Equal(t, Success, record.State)
	assert.Equal(t, 30, relay.checksFor(record.BundleID))
}

func TestSubmit_TimesOutAfterBudget(t *testing.T) {
	w := newWallet(t)
	relay := newFakeRelay(func(check int) (*client.CallsStatus, error) {
		if check%2 == 0 {
			return nil, model.ErrNetwork
		}
		return pending(), nil
	})
	chain := &fakeChain{balance: big.NewInt(1e18)}
	o := newOrchestrator(t, w, relay, chain, true)

	call, err := newPet(t).FeedPet()
	require.NoError(t, err)
	record, err := o.Submit(context.Background(), []model.PreparedCall{call})

	assert.ErrorIs(t, err, model.ErrTimeout)
	require.NotNil(t, record)
	assert.Equal(t, TimedOut, record.State)
	assert.Equal(t, fastPolicy.MaxStatusChecks, relay.checksFor(record.BundleID))
	assert.Empty(t, chain.sent, "an issued bundle never falls back")
}

// statusRelay answers setup and intent calls in memory and reads bundle
// status through a real RelayClient.
type statusRelay struct {
	*fakeRelay
	status *client.RelayClient
}

func (r statusRelay) GetCallsStatus(ctx context.Context, bundleID string) (*client.CallsStatus, error) {
	return r.status.GetCallsStatus(ctx, bundleID)
}

func TestSubmit_PollingStaysWithinCheckBudget(t *testing.T) {
	policy := client.RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       50 * time.Millisecond,
		PollInterval:    20 * time.Millisecond,
		MaxStatusChecks: 3,
	}
	budget := time.Duration(policy.MaxStatusChecks) * policy.PollInterval
	const slack = 150 * time.Millisecond

	tests := []struct {
		name  string
		serve func(w http.ResponseWriter, r *http.Request, release <-chan struct{})
		exact bool
	}{
		{
			name: "unavailable",
			serve: func(w http.ResponseWriter, _ *http.Request, _ <-chan struct{}) {
				http.Error(w, "busy", http.StatusServiceUnavailable)
			},
			exact: true,
		},
		{
			name: "hanging",
			serve: func(_ http.ResponseWriter, r *http.Request, release <-chan struct{}) {
				select {
				case <-release:
				case <-r.Context().Done():
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			release := make(chan struct{})
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				tt.serve(w, r, release)
			}))
			t.Cleanup(server.Close)
			t.Cleanup(func() { close(release) })

			rpcClient, err := rpc.DialHTTP(server.URL)
			require.NoError(t, err)
			t.Cleanup(rpcClient.Close)
			status, err := client.NewRelayClient(rpcClient, 1, common.Address{},
				client.WithRetryPolicy(policy),
				client.WithRelayLogger(zaptest.NewLogger(t)),
			)
			require.NoError(t, err)

			w := newWallet(t)
			chain := &fakeChain{balance: big.NewInt(1e18)}
			o, err := New(w, statusRelay{fakeRelay: newFakeRelay(nil), status: status}, chain, Config{
				RelayEnabled: true,
				Delegation:   delegationAddress,
				Policy:       policy,
			}, WithLogger(zaptest.NewLogger(t)))
			require.NoError(t, err)

			call, err := newPet(t).FeedPet()
			require.NoError(t, err)

			started := time.Now()
			record, err := o.Submit(context.Background(), []model.PreparedCall{call})
			elapsed := time.Since(started)

			assert.ErrorIs(t, err, model.ErrTimeout)
			require.NotNil(t, record)
			assert.Equal(t, TimedOut, record.State)
			assert.Less(t, elapsed, budget+slack)
			if tt.exact {
				assert.EqualValues(t, policy.MaxStatusChecks, requests.Load(), "one request per check")
			} else {
				assert.LessOrEqual(t, requests.Load(), int32(policy.MaxStatusChecks))
			}
			assert.Empty(t, chain.sent)
		})
	}
}

func TestSubmit_FailedBundleDoesNotFallBack(t *testing.T) {
	w := newWallet(t)
	relay := newFakeRelay(func(check int) (*client.CallsStatus, error) {
		return &client.CallsStatus{Code: 500, State: client.CallFailed}, nil
	})
	chain := &fakeChain{balance: big.NewInt(1e18)}
	o := newOrchestrator(t, w, relay, chain, true)

	call, err := newPet(t).FeedPet()
	require.NoError(t, err)
	record, err := o.Submit(context.Background(), []model.PreparedCall{call})

	assert.ErrorIs(t, err, model.ErrBundleFailed)
	require.NotNil(t, record)
	assert.Equal(t, []State{Pending, Failed}, record.History)
	assert.Equal(t, 1, relay.checksFor(record.BundleID))
	assert.Empty(t, chain.sent)
	assert.False(t, w.DelegationDeployed())
}

// concurrent submissions are independent
func TestSubmit_ConcurrentSubmissions(t *testing.T) {
	w := newWallet(t)
	relay := newFakeRelay(func(check int) (*client.CallsStatus, error) {
		if check < 2 {
			return pending(), nil
		}
		return success(), nil
	})
	o := newOrchestrator(t, w, relay, &fakeChain{balance: big.NewInt(0)}, true)

	call, err := newPet(t).FeedPet()
	require.NoError(t, err)

	records := make([]*TransactionRecord, 2)
	g, ctx := errgroup.WithContext(context.Background())
	for i := range records {
		i := i
		g.Go(func() error {
			record, err := o.Submit(ctx, []model.PreparedCall{call})
			records[i] = record
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.NotEqual(t, records[0].BundleID, records[1].BundleID)
	for _, record := range records {
		assert.Equal(t, Success, record.State)
	}
	assert.EqualValues(t, 1, relay.commits.Load(), "delegation setup is shared")
}

func TestSubmit_CancelledDuringPollStaysPending(t *testing.T) {
	w := newWallet(t)
	relay := newFakeRelay(func(check int) (*client.CallsStatus, error) {
		return pending(), nil
	})
	chain := &fakeChain{balance: big.NewInt(1e18)}
	o, err := New(w, relay, chain, Config{
		RelayEnabled: true,
		Delegation:   delegationAddress,
		Policy:       client.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, PollInterval: 10 * time.Millisecond, MaxStatusChecks: 1000},
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	call, err := newPet(t).FeedPet()
	require.NoError(t, err)
	task := o.Start(context.Background(), []model.PreparedCall{call})

	require.Eventually(t, func() bool { return relay.checksFor("0xbundle1") >= 2 }, time.Second, time.Millisecond)
	task.Cancel()

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop after cancel")
	}
	record, err := task.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, record)
	assert.Equal(t, Pending, record.State)
	assert.Empty(t, chain.sent)

	stopped := relay.checksFor("0xbundle1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, relay.checksFor("0xbundle1"), "no checks after cancellation")
}

func TestSubmit_CancelledSubmitterLeavesSharedSetupToOthers(t *testing.T) {
	w := newWallet(t)
	relay := newFakeRelay(func(int) (*client.CallsStatus, error) {
		return success(), nil
	})
	relay.delegateGate = make(chan struct{})
	chain := &fakeChain{balance: big.NewInt(1e18)}
	o := newOrchestrator(t, w, relay, chain, true)

	call, err := newPet(t).FeedPet()
	require.NoError(t, err)
	calls := []model.PreparedCall{call}

	first := o.Start(context.Background(), calls)
	require.Eventually(t, func() bool { return relay.delegates.Load() == 1 }, time.Second, time.Millisecond)
	second := o.Start(context.Background(), calls)
	time.Sleep(20 * time.Millisecond)

	first.Cancel()
	_, err = first.Wait()
	assert.ErrorIs(t, err, context.Canceled)

	close(relay.delegateGate)
	record, err := second.Wait()
	require.NoError(t, err)
	assert.Equal(t, PathRelay, record.Path)
	assert.Equal(t, Success, record.State)
	assert.EqualValues(t, 1, relay.delegates.Load())
	assert.EqualValues(t, 1, relay.commits.Load())
	assert.Empty(t, chain.sent, "no submission falls back while the relay is healthy")
}

func TestSubmit_CancelledBeforeBundleDoesNotFallBack(t *testing.T) {
	w := newWallet(t)
	relay := newFakeRelay(nil)
	relay.prepareErr = context.Canceled
	chain := &fakeChain{balance: big.NewInt(1e18)}
	o := newOrchestrator(t, w, relay, chain, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	call, err := newPet(t).FeedPet()
	require.NoError(t, err)
	_, err = o.Submit(ctx, []model.PreparedCall{call})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, chain.sent)
}

func TestSubmit_RelayDisabled(t *testing.T) {
	w := newWallet(t)
	chain := &fakeChain{balance: big.NewInt(1e18)}
	o := newOrchestrator(t, w, nil, chain, false)

	call, err := newPet(t).CreatePet("Rex")
	require.NoError(t, err)
	record, err := o.Submit(context.Background(), []model.PreparedCall{call})
	require.NoError(t, err)
	assert.Equal(t, PathDirect, record.Path)
	assert.Equal(t, []common.Address{petAddress}, chain.sent)
}

func TestSubmit_DirectRevertMarksFailed(t *testing.T) {
	w := newWallet(t)
	chain := &fakeChain{
		balance: big.NewInt(1e18),
		sendErr: model.ErrReverted,
		receipt: &model.Receipt{Success: false, BlockNumber: 3},
	}
	o := newOrchestrator(t, w, nil, chain, false)

	call, err := newPet(t).FeedPet()
	require.NoError(t, err)
	record, err := o.Submit(context.Background(), []model.PreparedCall{call})
	assert.ErrorIs(t, err, model.ErrReverted)
	require.NotNil(t, record)
	assert.Equal(t, Failed, record.State)
	assert.Len(t, record.Receipts, 1)
}

func TestSubmit_EmptyBatch(t *testing.T) {
	o := newOrchestrator(t, newWallet(t), nil, &fakeChain{balance: big.NewInt(0)}, false)

	_, err := o.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrInvalidParams)
}

func TestRecordTerminalStatesAreFinal(t *testing.T) {
	record := newRecord(PathRelay, "0x1")
	require.NoError(t, record.transition(Success))

	err := record.transition(Pending)
	assert.ErrorIs(t, err, ErrTerminalState)
	assert.ErrorIs(t, record.transition(Failed), ErrTerminalState)
	assert.Equal(t, Success, record.State)
	assert.Equal(t, []string{"pending", "success"}, record.HistoryStrings())
}
