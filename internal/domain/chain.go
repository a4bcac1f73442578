package domain

import (
	"context"
	"math/big"
)

// TransferReceipt is the confirmed result of an on-chain transfer.
type TransferReceipt struct {
	TxHash  string
	GasUsed uint64
}

// ChainClient is the injected settlement-layer collaborator. Every call
// blocks until the transaction is confirmed or fails; no partial state is
// returned. Callers apply their own timeout and must treat a timeout as an
// undetermined outcome (the transaction may still land), so nothing here
// is ever retried automatically.
type ChainClient interface {
	// Transfer moves amountWei of an agreement's ERC-20 token from the
	// operator account to the given address.
	Transfer(ctx context.Context, tokenContract, to string, amountWei *big.Int) (TransferReceipt, error)

	// TransferUnits is the ERC-1155 variant for multi-unit contracts where
	// the agreement occupies one token id.
	TransferUnits(ctx context.Context, tokenContract string, unitID *big.Int, to string, amountWei *big.Int) (TransferReceipt, error)

	// ExecuteGovernedAction submits the governed action of a SUCCEEDED
	// proposal and returns the execution transaction hash on confirmation.
	ExecuteGovernedAction(ctx context.Context, proposal Proposal) (string, error)

	// TokenBalance reads the authoritative on-chain balance of holder for
	// the agreement's token. Reconciliation treats this as truth.
	TokenBalance(ctx context.Context, agreement Agreement, holder string) (*big.Int, error)

	// ReceiptStatus re-checks a previously submitted transaction. The
	// second return is false while the transaction is still unknown or
	// unmined. This is the explicit alternative to resubmitting after a
	// timeout.
	ReceiptStatus(ctx context.Context, txHash string) (TransferReceipt, bool, error)
}

// AgreementTransfer dispatches to the transfer variant matching the
// agreement's token standard.
func AgreementTransfer(ctx context.Context, c ChainClient, agreement Agreement, to string, amountWei *big.Int) (TransferReceipt, error) {
	if agreement.TokenStandard == TokenStandardERC1155 {
		return c.TransferUnits(ctx, agreement.TokenContract, agreement.TokenUnitID, to, amountWei)
	}
	return c.Transfer(ctx, agreement.TokenContract, to, amountWei)
}
