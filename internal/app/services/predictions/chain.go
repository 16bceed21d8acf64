package predictions

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sportsblock/sportsblock/internal/app/metrics"
	"github.com/sportsblock/sportsblock/internal/chain"
)

// ChainVerifier checks escrow transfers against the chain by transaction ID.
type ChainVerifier struct {
	client *chain.Client
}

// NewChainVerifier wraps a chain client.
func NewChainVerifier(client *chain.Client) *ChainVerifier {
	return &ChainVerifier{client: client}
}

// VerifyStakeTransfer looks up txID and requires a transfer operation from
// the staker to the escrow with the exact amount, symbol and memo.
func (v *ChainVerifier) VerifyStakeTransfer(ctx context.Context, txID, from, to string, amount float64, symbol, memo string) error {
	tx, err := v.client.GetTransaction(ctx, txID)
	metrics.RecordChainCall("condenser_api.get_transaction", err)
	if err != nil {
		return fmt.Errorf("fetch transaction %s: %w", txID, err)
	}

	for _, op := range tx.Operations {
		if op.Name != "transfer" {
			continue
		}
		var transfer chain.TransferPayload
		if err := op.Decode(&transfer); err != nil {
			continue
		}
		if !strings.EqualFold(transfer.From, from) || !strings.EqualFold(transfer.To, to) {
			continue
		}
		if transfer.Memo != memo {
			continue
		}
		value, sym, err := transfer.Amount.Parse()
		if err != nil {
			continue
		}
		if !strings.EqualFold(sym, symbol) {
			return fmt.Errorf("transfer %s uses %s, expected %s", txID, sym, symbol)
		}
		if math.Abs(value-amount) > 0.0005 {
			return fmt.Errorf("transfer %s amount %.3f does not match stake %.3f", txID, value, amount)
		}
		return nil
	}
	return fmt.Errorf("transaction %s carries no matching escrow transfer", txID)
}

// ChainTreasury pays winners by broadcasting transfers from the escrow
// account, signed with its active key.
type ChainTreasury struct {
	client  *chain.Client
	signer  chain.Signer
	chainID string
	escrow  string
}

// NewChainTreasury builds a treasury for the escrow account.
func NewChainTreasury(client *chain.Client, signer chain.Signer, chainID, escrow string) *ChainTreasury {
	return &ChainTreasury{client: client, signer: signer, chainID: chainID, escrow: strings.ToLower(escrow)}
}

// Pay broadcasts a transfer of amount symbol from the escrow to the account.
func (t *ChainTreasury) Pay(ctx context.Context, to string, amount float64, symbol, memo string) (string, error) {
	props, err := t.client.DynamicGlobalProperties(ctx)
	metrics.RecordChainCall("condenser_api.get_dynamic_global_properties", err)
	if err != nil {
		return "", fmt.Errorf("fetch chain head: %w", err)
	}

	tx, err := chain.NewTransaction(props, 0)
	if err != nil {
		return "", err
	}
	op, err := chain.NewTransferOp(t.escrow, strings.ToLower(to), chain.FormatAsset(amount, symbol), memo)
	if err != nil {
		return "", err
	}
	tx.AddOperation(op)

	if err := tx.Sign(t.chainID, t.signer); err != nil {
		return "", err
	}

	result, err := t.client.BroadcastTransactionSynchronous(ctx, tx)
	metrics.RecordChainCall("condenser_api.broadcast_transaction_synchronous", err)
	if err != nil {
		return "", fmt.Errorf("broadcast payout: %w", err)
	}
	return result.ID, nil
}
