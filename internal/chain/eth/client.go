// Package eth implements the settlement-layer client against an Ethereum
// JSON-RPC endpoint. Transfers and governed actions are submitted from the
// operator account and block until mined.
package eth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/sharemarket/internal/chain/keys"
	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// Minimal ABI fragments for the three contract surfaces we touch.
const (
	erc20ABIJSON = `[
		{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	erc1155ABIJSON = `[
		{"name":"safeTransferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	governorABIJSON = `[
		{"name":"setDistributionRate","type":"function","inputs":[{"name":"agreementId","type":"string"},{"name":"rateBps","type":"uint256"}],"outputs":[]},
		{"name":"setParameter","type":"function","inputs":[{"name":"agreementId","type":"string"},{"name":"key","type":"string"},{"name":"value","type":"uint256"}],"outputs":[]}
	]`
)

// Config configures the Ethereum client.
type Config struct {
	RPCURL           string
	ChainID          int64
	GovernorContract string
	Keys             keys.Config
}

// Client implements domain.ChainClient over go-ethereum. Transactions are
// serialized through a mutex so the operator account's nonce never races.
type Client struct {
	ec       *ethclient.Client
	auth     *bind.TransactOpts
	operator common.Address
	governor common.Address

	erc20ABI    abi.ABI
	erc1155ABI  abi.ABI
	governorABI abi.ABI

	txMu sync.Mutex
	log  *slog.Logger
}

// New dials the RPC endpoint, loads the operator key, and parses the
// contract ABIs.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	key, err := keys.Load(cfg.Keys)
	if err != nil {
		return nil, fmt.Errorf("eth: load operator key: %w", err)
	}

	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("eth: dial %s: %w", cfg.RPCURL, err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("eth: keyed transactor: %w", err)
	}

	c := &Client{
		ec:       ec,
		auth:     auth,
		operator: ethcrypto.PubkeyToAddress(key.PublicKey),
		governor: common.HexToAddress(cfg.GovernorContract),
		log:      log.With(slog.String("component", "eth")),
	}
	if c.erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		return nil, fmt.Errorf("eth: parse erc20 abi: %w", err)
	}
	if c.erc1155ABI, err = abi.JSON(strings.NewReader(erc1155ABIJSON)); err != nil {
		return nil, fmt.Errorf("eth: parse erc1155 abi: %w", err)
	}
	if c.governorABI, err = abi.JSON(strings.NewReader(governorABIJSON)); err != nil {
		return nil, fmt.Errorf("eth: parse governor abi: %w", err)
	}
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ec.Close()
}

// Operator returns the address transactions are sent from.
func (c *Client) Operator() string {
	return c.operator.Hex()
}

func (c *Client) bound(addr common.Address, a abi.ABI) *bind.BoundContract {
	return bind.NewBoundContract(addr, a, c.ec, c.ec, c.ec)
}

// mapErr folds context expiry into the undetermined-outcome sentinel. The
// caller must not resubmit after seeing it.
func mapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("eth: %w", domain.ErrChainTimeout)
	}
	return err
}

// transact submits one contract call and waits for it to mine. The nonce
// mutex spans submit and wait so a timed-out transaction cannot be raced by
// the next one reusing its nonce.
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...any) (domain.TransferReceipt, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts := *c.auth
	opts.Context = ctx

	start := time.Now()
	tx, err := contract.Transact(&opts, method, args...)
	if err != nil {
		return domain.TransferReceipt{}, mapErr(ctx, fmt.Errorf("eth: %s: %w", method, err))
	}

	receipt, err := bind.WaitMined(ctx, c.ec, tx)
	if err != nil {
		// The transaction is in flight; its outcome is unknown. Surface the
		// hash so the caller can re-check later via ReceiptStatus.
		c.log.Warn("wait mined failed",
			slog.String("method", method),
			slog.String("tx_hash", tx.Hash().Hex()),
			slog.String("error", err.Error()))
		return domain.TransferReceipt{TxHash: tx.Hash().Hex()}, mapErr(ctx, fmt.Errorf("eth: wait mined %s: %w", method, err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.TransferReceipt{}, fmt.Errorf("eth: %s tx %s: %w", method, tx.Hash().Hex(), domain.ErrChainReverted)
	}

	c.log.Info("transaction mined",
		slog.String("method", method),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
		slog.Duration("elapsed", time.Since(start)))

	return domain.TransferReceipt{TxHash: tx.Hash().Hex(), GasUsed: receipt.GasUsed}, nil
}

// Transfer moves amountWei of an ERC-20 token from the operator to the
// given address.
func (c *Client) Transfer(ctx context.Context, tokenContract, to string, amountWei *big.Int) (domain.TransferReceipt, error) {
	contract := c.bound(common.HexToAddress(tokenContract), c.erc20ABI)
	return c.transact(ctx, contract, "transfer", common.HexToAddress(to), amountWei)
}

// TransferUnits moves amountWei of one token id on an ERC-1155 contract.
func (c *Client) TransferUnits(ctx context.Context, tokenContract string, unitID *big.Int, to string, amountWei *big.Int) (domain.TransferReceipt, error) {
	contract := c.bound(common.HexToAddress(tokenContract), c.erc1155ABI)
	return c.transact(ctx, contract, "safeTransferFrom",
		c.operator, common.HexToAddress(to), unitID, amountWei, []byte{})
}

// ExecuteGovernedAction submits the on-chain side of a SUCCEEDED proposal
// to the governor contract and returns the execution transaction hash.
func (c *Client) ExecuteGovernedAction(ctx context.Context, proposal domain.Proposal) (string, error) {
	contract := c.bound(c.governor, c.governorABI)

	var receipt domain.TransferReceipt
	var err error
	switch proposal.Type {
	case domain.ProposalTypeRateAdjustment:
		receipt, err = c.transact(ctx, contract, "setDistributionRate",
			proposal.AgreementID, big.NewInt(proposal.TargetValue))
	case domain.ProposalTypeParameterUpdate:
		receipt, err = c.transact(ctx, contract, "setParameter",
			proposal.AgreementID, proposal.ParameterKey, big.NewInt(proposal.TargetValue))
	default:
		return "", fmt.Errorf("eth: unknown proposal type %q", proposal.Type)
	}
	if err != nil {
		return receipt.TxHash, err
	}
	return receipt.TxHash, nil
}

// TokenBalance reads the on-chain balance of holder for the agreement's
// token contract, dispatching on the token standard.
func (c *Client) TokenBalance(ctx context.Context, agreement domain.Agreement, holder string) (*big.Int, error) {
	opts := &bind.CallOpts{Context: ctx}
	addr := common.HexToAddress(agreement.TokenContract)
	holderAddr := common.HexToAddress(holder)

	var out []any
	var err error
	if agreement.TokenStandard == domain.TokenStandardERC1155 {
		err = c.bound(addr, c.erc1155ABI).Call(opts, &out, "balanceOf", holderAddr, agreement.TokenUnitID)
	} else {
		err = c.bound(addr, c.erc20ABI).Call(opts, &out, "balanceOf", holderAddr)
	}
	if err != nil {
		return nil, mapErr(ctx, fmt.Errorf("eth: balanceOf %s: %w", holder, err))
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("eth: balanceOf %s: unexpected output arity %d", holder, len(out))
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("eth: balanceOf %s: unexpected output type %T", holder, out[0])
	}
	return balance, nil
}

// ReceiptStatus re-checks a previously submitted transaction. It reports
// found=false while the transaction is unknown or unmined.
func (c *Client) ReceiptStatus(ctx context.Context, txHash string) (domain.TransferReceipt, bool, error) {
	receipt, err := c.ec.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return domain.TransferReceipt{}, false, nil
		}
		return domain.TransferReceipt{}, false, mapErr(ctx, fmt.Errorf("eth: receipt %s: %w", txHash, err))
	}
	out := domain.TransferReceipt{TxHash: txHash, GasUsed: receipt.GasUsed}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return out, true, fmt.Errorf("eth: tx %s: %w", txHash, domain.ErrChainReverted)
	}
	return out, true, nil
}

var _ domain.ChainClient = (*Client)(nil)
