package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharemarket/internal/domain"
	"github.com/alanyoungcy/sharemarket/internal/store/memory"
)

const (
	ownerAddr = "0x1111111111111111111111111111111111111111"
	buyerAddr = "0x2222222222222222222222222222222222222222"
	otherAddr = "0x3333333333333333333333333333333333333333"
	tokenAddr = "0x4444444444444444444444444444444444444444"
)

// fakeChain is a controllable domain.ChainClient. Transfers succeed with a
// fixed receipt unless transferErr is set; on-chain balances default to zero.
type fakeChain struct {
	mu             sync.Mutex
	transferErr    error
	transferCalls  int
	receipt        domain.TransferReceipt
	receipts       map[string]domain.TransferReceipt
	balances       map[string]*big.Int
	execTxHash     string
	execErr        error
	execCalls      int
	deadlineMisses int // calls that arrived without a context deadline
}

func (c *fakeChain) noteDeadline(ctx context.Context) {
	if _, ok := ctx.Deadline(); !ok {
		c.deadlineMisses++
	}
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		receipt:    domain.TransferReceipt{TxHash: "0xaaa111", GasUsed: 21000},
		receipts:   make(map[string]domain.TransferReceipt),
		balances:   make(map[string]*big.Int),
		execTxHash: "0xexec99",
	}
}

func (c *fakeChain) Transfer(ctx context.Context, tokenContract, to string, amountWei *big.Int) (domain.TransferReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noteDeadline(ctx)
	c.transferCalls++
	if c.transferErr != nil {
		// A failed wait still carries the submitted hash, like the real client.
		return domain.TransferReceipt{TxHash: c.receipt.TxHash}, c.transferErr
	}
	return c.receipt, nil
}

func (c *fakeChain) TransferUnits(ctx context.Context, tokenContract string, unitID *big.Int, to string, amountWei *big.Int) (domain.TransferReceipt, error) {
	return c.Transfer(ctx, tokenContract, to, amountWei)
}

func (c *fakeChain) ExecuteGovernedAction(ctx context.Context, proposal domain.Proposal) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noteDeadline(ctx)
	c.execCalls++
	if c.execErr != nil {
		return "", c.execErr
	}
	return c.execTxHash, nil
}

func (c *fakeChain) TokenBalance(ctx context.Context, agreement domain.Agreement, holder string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noteDeadline(ctx)
	if b, ok := c.balances[holder]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) ReceiptStatus(ctx context.Context, txHash string) (domain.TransferReceipt, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[txHash]
	return r, ok, nil
}

func (c *fakeChain) setBalance(holder string, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[holder] = new(big.Int).Set(wei)
}

var _ domain.ChainClient = (*fakeChain)(nil)

// fakeBus counts publishes per channel; delivery is irrelevant to these tests.
type fakeBus struct {
	mu        sync.Mutex
	published map[string]int
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string]int)}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel]++
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *fakeBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[channel]
}

var _ domain.SignalBus = (*fakeBus)(nil)

// fixture wires every service against one in-memory store and one fake
// chain, with a registered agreement whose full supply sits on the owner.
type fixture struct {
	store      *memory.Store
	chain      *fakeChain
	bus        *fakeBus
	ledger     *LedgerService
	listings   *ListingService
	trades     *TradeService
	governance *GovernanceService
	reconcile  *ReconcileService
	agreement  domain.Agreement
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.NewStore()
	chain := newFakeChain()
	bus := newFakeBus()

	f := &fixture{store: st, chain: chain, bus: bus}
	f.ledger = NewLedgerService(st.Agreements, st.Balances, st.Audit, logger)
	f.listings = NewListingService(st.Listings, st.Agreements, bus, st.Audit, logger)
	f.trades = NewTradeService(st.Trades, st.Listings, st.Agreements, chain, bus, st.Audit, nil, logger, time.Minute)
	f.governance = NewGovernanceService(st.Proposals, st.Votes, st.Balances, st.Agreements, chain, bus, st.Audit, nil, logger, time.Minute)
	f.reconcile = NewReconcileService(st.Balances, st.Listings, st.Agreements, st.Plans, chain, bus, st.Audit, nil, logger, time.Minute)

	a, err := f.ledger.RegisterAgreement(context.Background(), RegisterAgreementParams{
		Name:             "Solar Farm Alpha",
		Symbol:           "SOLAR",
		TotalTokenSupply: 1000,
		TokenStandard:    domain.TokenStandardERC20,
		TokenContract:    tokenAddr,
		OwnerAddress:     ownerAddr,
	})
	require.NoError(t, err)
	f.agreement = a
	return f
}

// list creates an ACTIVE listing for the owner.
func (f *fixture) list(t *testing.T, shares int64) domain.Listing {
	t.Helper()
	l, err := f.listings.Create(context.Background(), CreateListingParams{
		AgreementID:   f.agreement.ID,
		SellerAddress: ownerAddr,
		SharesForSale: domain.SharesToWei(shares),
		PricePerShare: big.NewInt(5_000_000),
	})
	require.NoError(t, err)
	return l
}

// auditEvents returns how many audit rows carry the given event name.
func (f *fixture) auditEvents(t *testing.T, event string) int {
	t.Helper()
	entries, err := f.store.Audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.Event == event {
			n++
		}
	}
	return n
}
