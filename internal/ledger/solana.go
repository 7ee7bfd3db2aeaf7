package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
)

// Solana talks to a Solana JSON-RPC node. It signs payouts with the pot wallet.
type Solana struct {
	rpc     *rpc.Client
	wallet  solana.PrivateKey
	timeout time.Duration
}

func NewSolana(endpoint, walletKey string, timeout time.Duration) (*Solana, error) {
	key, err := solana.PrivateKeyFromBase58(walletKey)
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Solana{
		rpc:     rpc.New(endpoint),
		wallet:  key,
		timeout: timeout,
	}, nil
}

// WalletAddress is the address payouts are sent from.
func (s *Solana) WalletAddress() string {
	return s.wallet.PublicKey().String()
}

// CheckWallet fails unless the wallet key controls pot, the address entries
// are paid to and prizes are sized from.
func (s *Solana) CheckWallet(pot string) error {
	if wallet := s.WalletAddress(); wallet != pot {
		return fmt.Errorf("%w: key is for %s, pot is %s", ErrWalletMismatch, wallet, pot)
	}
	return nil
}

func (s *Solana) RecentSignatures(ctx context.Context, address string, limit int) ([]string, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.rpc.GetSignaturesForAddressWithOpts(ctx, pk, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, classify("get signatures", err)
	}
	sigs := make([]string, 0, len(out))
	for _, ts := range out {
		if ts == nil {
			continue
		}
		sigs = append(sigs, ts.Signature.String())
	}
	return sigs, nil
}

func (s *Solana) Transaction(ctx context.Context, sig string) (*Transaction, error) {
	signature, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return nil, fmt.Errorf("parse signature: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	maxVersion := uint64(0)
	out, err := s.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, classify("get transaction", err)
	}
	if out == nil || out.Meta == nil || out.Transaction == nil {
		return nil, ErrNotFound
	}
	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", sig, err)
	}

	// v0 transactions append lookup-table accounts after the static keys.
	keys := make([]string, 0, len(tx.Message.AccountKeys))
	for _, k := range tx.Message.AccountKeys {
		keys = append(keys, k.String())
	}
	for _, k := range out.Meta.LoadedAddresses.Writable {
		keys = append(keys, k.String())
	}
	for _, k := range out.Meta.LoadedAddresses.ReadOnly {
		keys = append(keys, k.String())
	}

	return &Transaction{
		Signature:    sig,
		AccountKeys:  keys,
		PreBalances:  out.Meta.PreBalances,
		PostBalances: out.Meta.PostBalances,
	}, nil
}

func (s *Solana) Balance(ctx context.Context, address string) (uint64, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("parse address: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.rpc.GetBalance(ctx, pk, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, classify("get balance", err)
	}
	return out.Value, nil
}

func (s *Solana) SubmitTransfer(ctx context.Context, to string, amount uint64) (string, error) {
	dest, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("parse destination: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	recent, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", classify("get blockhash", err)
	}

	from := s.wallet.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(amount, from, dest).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(from) {
			return &s.wallet
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}

	sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", classify("send transfer", err)
	}
	return sig.String(), nil
}

func (s *Solana) SignatureStatus(ctx context.Context, sig string) (Status, error) {
	signature, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return StatusPending, fmt.Errorf("parse signature: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.rpc.GetSignatureStatuses(ctx, true, signature)
	if err != nil {
		return StatusPending, classify("get signature status", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return StatusPending, nil
	}
	st := out.Value[0]
	if st.Err != nil {
		return StatusFailed, nil
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return StatusFinalized, nil
	case rpc.ConfirmationStatusConfirmed:
		return StatusConfirmed, nil
	default:
		return StatusPending, nil
	}
}

// classify maps RPC errors onto the package sentinels.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, rpc.ErrNotFound):
		return ErrNotFound
	case isRateLimit(err):
		return fmt.Errorf("%s: %w: %v", op, ErrRateLimited, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
