// Package settlement pays the token obligations a pool raises while a
// deposit is in flight. A deposit is registered with BeginDeposit before the
// pool is called; the pool's callback is authenticated against what was
// registered and settled with Settle.
package settlement

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"lpManager/internal/ledger"
	"lpManager/internal/model"
	"lpManager/internal/pooladdr"
)

var (
	ErrUnknownHandle  = errors.New("unknown settlement handle")
	ErrAlreadySettled = errors.New("deposit already settled")
	ErrNotSettled     = errors.New("deposit not settled")
	ErrNativeBudget   = errors.New("native leg exceeds supplied value")
)

// Handle names one pending deposit.
type Handle [32]byte

func (h Handle) String() string {
	return hex.EncodeToString(h[:16])
}

// DepositRequest is what the manager knows about a deposit before it calls the pool.
type DepositRequest struct {
	Pool   model.PoolIdentity
	Payer  common.Address
	Native model.NativeCase
	// NativeBudget caps the wrapped native the settler may spend from its own
	// balance on the native leg.
	NativeBudget *uint256.Int
}

// Receipt reports what a settled deposit paid.
type Receipt struct {
	Handle     Handle
	Pool       common.Address
	Amount0    *uint256.Int
	Amount1    *uint256.Int
	NativeUsed *uint256.Int
}

type pending struct {
	req      DepositRequest
	expected common.Address
	settled  bool
	receipt  Receipt
}

// Settler holds pending deposits. Self is the account that spends payer
// approvals and holds wrapped native for native legs.
type Settler struct {
	ledger       *ledger.Ledger
	self         common.Address
	initCodeHash common.Hash
	logger       *zap.Logger

	mu      sync.Mutex
	pending map[Handle]*pending
}

// New returns a Settler acting as self.
func New(l *ledger.Ledger, self common.Address, initCodeHash common.Hash, logger *zap.Logger) *Settler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Settler{
		ledger:       l,
		self:         self,
		initCodeHash: initCodeHash,
		logger:       logger,
		pending:      make(map[Handle]*pending),
	}
}

// BeginDeposit records the deposit and returns its handle together with the
// callback data to pass to the pool.
func (s *Settler) BeginDeposit(ctx context.Context, req DepositRequest) (Handle, []byte, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, nil, err
	}
	expected, err := pooladdr.Compute(req.Pool, s.initCodeHash)
	if err != nil {
		return Handle{}, nil, fmt.Errorf("begin deposit: %w", err)
	}
	if req.NativeBudget == nil {
		req.NativeBudget = new(uint256.Int)
	}

	var h Handle
	id := uuid.New()
	copy(h[:], id[:])

	data, err := pooladdr.EncodeContext(pooladdr.SettlementContext{Pool: req.Pool, Payer: req.Payer, Handle: h})
	if err != nil {
		return Handle{}, nil, fmt.Errorf("begin deposit: %w", err)
	}

	s.mu.Lock()
	s.pending[h] = &pending{req: req, expected: expected}
	s.mu.Unlock()
	s.ledger.Journal().Append(func() { s.forget(h) })
	return h, data, nil
}

// MintCallback decodes the settlement context and settles the deposit it names.
// caller is the account invoking the callback.
func (s *Settler) MintCallback(ctx context.Context, caller common.Address, amount0Owed, amount1Owed *uint256.Int, data []byte) error {
	sc, err := pooladdr.DecodeContext(data)
	if err != nil {
		s.logger.Warn("rejecting callback with malformed context", zap.String("caller", caller.Hex()), zap.Error(err))
		return fmt.Errorf("%w: %w", model.ErrCallbackAuthorization, err)
	}
	return s.Settle(ctx, Handle(sc.Handle), caller, sc, amount0Owed, amount1Owed)
}

// Settle authenticates caller against the deposit registered under h and
// pays the owed amounts to it. The pool identity in sc must equal the
// registered one and caller must be the canonical address derived from it
// when the deposit began.
func (s *Settler) Settle(ctx context.Context, h Handle, caller common.Address, sc pooladdr.SettlementContext, amount0Owed, amount1Owed *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	p, ok := s.pending[h]
	s.mu.Unlock()
	if !ok {
		return s.reject(caller, h, fmt.Errorf("%w: %s", ErrUnknownHandle, h))
	}
	if p.settled {
		return s.reject(caller, h, fmt.Errorf("%w: %s", ErrAlreadySettled, h))
	}
	if sc.Pool != p.req.Pool || sc.Payer != p.req.Payer {
		return s.reject(caller, h, fmt.Errorf("context %s does not match deposit %s", sc.Pool, p.req.Pool))
	}
	if caller != p.expected {
		return s.reject(caller, h, fmt.Errorf("caller %s is not pool %s", caller.Hex(), p.expected.Hex()))
	}

	nativeUsed := new(uint256.Int)
	if err := s.pay(p, caller, p.req.Pool.Token0, amount0Owed, p.req.Native == model.Token0IsNative, nativeUsed); err != nil {
		return fmt.Errorf("settle token0: %w", err)
	}
	if err := s.pay(p, caller, p.req.Pool.Token1, amount1Owed, p.req.Native == model.Token1IsNative, nativeUsed); err != nil {
		return fmt.Errorf("settle token1: %w", err)
	}

	s.mu.Lock()
	p.settled = true
	p.receipt = Receipt{
		Handle:     h,
		Pool:       caller,
		Amount0:    amount0Owed.Clone(),
		Amount1:    amount1Owed.Clone(),
		NativeUsed: nativeUsed,
	}
	s.mu.Unlock()
	s.ledger.Journal().Append(func() {
		s.mu.Lock()
		p.settled = false
		p.receipt = Receipt{}
		s.mu.Unlock()
	})

	s.logger.Debug("deposit settled",
		zap.String("handle", h.String()),
		zap.String("pool", caller.Hex()),
		zap.String("amount0", amount0Owed.ToBig().String()),
		zap.String("amount1", amount1Owed.ToBig().String()),
		zap.String("native_used", nativeUsed.ToBig().String()),
	)
	return nil
}

// Complete returns the receipt of a settled deposit and forgets it.
func (s *Settler) Complete(h Handle) (Receipt, error) {
	s.mu.Lock()
	p, ok := s.pending[h]
	s.mu.Unlock()
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	if !p.settled {
		return Receipt{}, fmt.Errorf("%w: %s", ErrNotSettled, h)
	}
	s.forget(h)
	s.ledger.Journal().Append(func() {
		s.mu.Lock()
		s.pending[h] = p
		s.mu.Unlock()
	})
	return p.receipt, nil
}

// Pending returns the number of deposits begun and not completed.
func (s *Settler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Settler) pay(p *pending, pool, token common.Address, amount *uint256.Int, native bool, nativeUsed *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if native {
		if p.req.NativeBudget.Lt(amount) {
			return fmt.Errorf("%w: owed %s, supplied %s", ErrNativeBudget, amount.ToBig(), p.req.NativeBudget.ToBig())
		}
		nativeUsed.Add(nativeUsed, amount)
		return s.ledger.Transfer(token, s.self, pool, amount)
	}
	return s.ledger.TransferFrom(token, s.self, p.req.Payer, pool, amount)
}

func (s *Settler) reject(caller common.Address, h Handle, cause error) error {
	s.logger.Warn("rejecting settlement callback",
		zap.String("caller", caller.Hex()),
		zap.String("handle", h.String()),
		zap.Error(cause),
	)
	return fmt.Errorf("%w: %w", model.ErrCallbackAuthorization, cause)
}

func (s *Settler) forget(h Handle) {
	s.mu.Lock()
	delete(s.pending, h)
	s.mu.Unlock()
}
