// Package settlement is the boundary to external custody. The vault core
// calls it only after its own ledger mutation has committed; it never moves
// funds itself.
package settlement

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TxRef identifies a submitted transfer at the custody provider.
type TxRef string

// Settlement executes asset transfers between accounts.
type Settlement interface {
	Transfer(ctx context.Context, asset string, from, to common.Address, amount decimal.Decimal) (TxRef, error)
}

// ErrInsufficientBalance is returned by the simulated engine when the source
// account cannot cover the transfer.
var ErrInsufficientBalance = errors.New("insufficient settlement balance")

// TransferInstruction is the canonical payload signed and submitted by the
// signing engine.
type TransferInstruction struct {
	Asset     string `json:"asset"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

// SignedTransfer couples an instruction with its secp256k1 signature.
type SignedTransfer struct {
	Instruction TransferInstruction `json:"instruction"`
	Hash        string              `json:"hash"`
	Signature   string              `json:"signature"`
}

// Sink delivers signed transfers to the custody provider.
type Sink interface {
	Submit(ctx context.Context, transfer SignedTransfer) (TxRef, error)
}

// Stats is a snapshot of settlement activity.
type Stats struct {
	Submitted   int64
	Failed      int64
	LastLatency time.Duration
}

// SigningEngine signs each transfer instruction with the vault operator key
// and hands it to the configured sink.
type SigningEngine struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	sink       Sink
	logger     *zap.Logger

	nonce     atomic.Uint64
	submitted atomic.Int64
	failed    atomic.Int64

	mu          sync.Mutex
	lastLatency time.Duration
}

// NewSigningEngine creates a signing settlement engine from a hex-encoded
// private key.
func NewSigningEngine(privateKeyHex string, sink Sink, logger *zap.Logger) (*SigningEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	privateKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &SigningEngine{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		sink:       sink,
		logger:     logger,
	}, nil
}

// Address returns the signer's account address.
func (e *SigningEngine) Address() common.Address {
	return e.address
}

// Transfer implements Settlement.
func (e *SigningEngine) Transfer(ctx context.Context, asset string, from, to common.Address, amount decimal.Decimal) (TxRef, error) {
	instruction := TransferInstruction{
		Asset:     asset,
		From:      from.Hex(),
		To:        to.Hex(),
		Amount:    amount.String(),
		Nonce:     e.nonce.Add(1),
		Timestamp: time.Now().UnixMilli(),
	}

	payload, err := json.Marshal(instruction)
	if err != nil {
		return "", fmt.Errorf("marshal transfer instruction: %w", err)
	}

	hash := crypto.Keccak256Hash(payload)
	signature, err := crypto.Sign(hash.Bytes(), e.privateKey)
	if err != nil {
		e.failed.Add(1)
		return "", fmt.Errorf("sign transfer instruction: %w", err)
	}

	signed := SignedTransfer{
		Instruction: instruction,
		Hash:        hash.Hex(),
		Signature:   hex.EncodeToString(signature),
	}

	start := time.Now()
	ref, err := e.sink.Submit(ctx, signed)
	latency := time.Since(start)

	e.mu.Lock()
	e.lastLatency = latency
	e.mu.Unlock()

	if err != nil {
		e.failed.Add(1)
		e.logger.Error("transfer submission failed",
			zap.String("asset", asset),
			zap.String("to", to.Hex()),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return "", err
	}

	e.submitted.Add(1)
	e.logger.Debug("transfer submitted",
		zap.String("tx", string(ref)),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.Duration("latency", latency))
	return ref, nil
}

// GetStats returns a snapshot of settlement activity.
func (e *SigningEngine) GetStats() Stats {
	e.mu.Lock()
	last := e.lastLatency
	e.mu.Unlock()

	return Stats{
		Submitted:   e.submitted.Load(),
		Failed:      e.failed.Load(),
		LastLatency: last,
	}
}

// SimEngine is an in-memory settlement used for tests and paper trading.
// Balances are tracked per asset and account; the vault account can be seeded
// or allowed to overdraw.
type SimEngine struct {
	mu             sync.Mutex
	balances       map[string]map[common.Address]decimal.Decimal
	allowOverdraft bool
	sequence       uint64
}

// NewSimEngine creates a simulated settlement engine.
func NewSimEngine(allowOverdraft bool) *SimEngine {
	return &SimEngine{
		balances:       make(map[string]map[common.Address]decimal.Decimal),
		allowOverdraft: allowOverdraft,
	}
}

// Fund credits an account balance.
func (e *SimEngine) Fund(asset string, account common.Address, amount decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.credit(asset, account, amount)
}

// Balance returns the current balance of an account.
func (e *SimEngine) Balance(asset string, account common.Address) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	if accounts, ok := e.balances[asset]; ok {
		return accounts[account]
	}
	return decimal.Zero
}

// Transfer implements Settlement.
func (e *SimEngine) Transfer(_ context.Context, asset string, from, to common.Address, amount decimal.Decimal) (TxRef, error) {
	if amount.IsNegative() {
		return "", fmt.Errorf("negative transfer amount %s", amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	balance := decimal.Zero
	if accounts, ok := e.balances[asset]; ok {
		balance = accounts[from]
	}
	if !e.allowOverdraft && balance.LessThan(amount) {
		return "", ErrInsufficientBalance
	}

	e.credit(asset, from, amount.Neg())
	e.credit(asset, to, amount)
	e.sequence++
	return TxRef(fmt.Sprintf("sim-%d", e.sequence)), nil
}

func (e *SimEngine) credit(asset string, account common.Address, amount decimal.Decimal) {
	accounts, ok := e.balances[asset]
	if !ok {
		accounts = make(map[common.Address]decimal.Decimal)
		e.balances[asset] = accounts
	}
	accounts[account] = accounts[account].Add(amount)
}
