package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNoWrappedNative       = errors.New("wrapped native token not configured")
)

var maxAllowance = new(uint256.Int).SetAllOne()

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Ledger holds ERC20-style balances and allowances per token plus native
// balances. Every mutation is journaled.
type Ledger struct {
	journal       *Journal
	wrappedNative common.Address

	balances   map[common.Address]map[common.Address]*uint256.Int
	allowances map[common.Address]map[allowanceKey]*uint256.Int
	native     map[common.Address]*uint256.Int
}

// New returns an empty ledger. wrappedNative names the token Wrap and Unwrap
// convert native value into; it may be the zero address.
func New(journal *Journal, wrappedNative common.Address) *Ledger {
	if journal == nil {
		journal = NewJournal()
	}
	return &Ledger{
		journal:       journal,
		wrappedNative: wrappedNative,
		balances:      make(map[common.Address]map[common.Address]*uint256.Int),
		allowances:    make(map[common.Address]map[allowanceKey]*uint256.Int),
		native:        make(map[common.Address]*uint256.Int),
	}
}

// Journal returns the journal the ledger records into.
func (l *Ledger) Journal() *Journal {
	return l.journal
}

// WrappedNative returns the configured wrapped native token.
func (l *Ledger) WrappedNative() common.Address {
	return l.wrappedNative
}

// BalanceOf returns a copy of holder's balance of token.
func (l *Ledger) BalanceOf(token, holder common.Address) *uint256.Int {
	if v, ok := l.balances[token][holder]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// NativeBalance returns a copy of holder's native balance.
func (l *Ledger) NativeBalance(holder common.Address) *uint256.Int {
	if v, ok := l.native[holder]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// Allowance returns how much spender may move from owner's token balance.
func (l *Ledger) Allowance(token, owner, spender common.Address) *uint256.Int {
	if v, ok := l.allowances[token][allowanceKey{owner, spender}]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// Mint credits token out of thin air. Used to fund accounts.
func (l *Ledger) Mint(token, to common.Address, amount *uint256.Int) error {
	next, overflow := new(uint256.Int).AddOverflow(l.BalanceOf(token, to), amount)
	if overflow {
		return fmt.Errorf("mint %s to %s: balance overflow", token.Hex(), to.Hex())
	}
	l.setBalance(token, to, next)
	return nil
}

// FundNative credits native value to an account.
func (l *Ledger) FundNative(to common.Address, amount *uint256.Int) error {
	next, overflow := new(uint256.Int).AddOverflow(l.NativeBalance(to), amount)
	if overflow {
		return fmt.Errorf("fund %s: native balance overflow", to.Hex())
	}
	l.setNative(to, next)
	return nil
}

// Approve sets spender's allowance over owner's token balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *uint256.Int) {
	l.setAllowance(token, owner, spender, amount.Clone())
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() || from == to {
		return nil
	}
	have := l.BalanceOf(token, from)
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s",
			ErrInsufficientBalance, from.Hex(), dec(have), token.Hex(), dec(amount))
	}
	l.setBalance(token, from, have.Sub(have, amount))
	l.setBalance(token, to, new(uint256.Int).Add(l.BalanceOf(token, to), amount))
	return nil
}

// TransferFrom moves amount on owner's behalf, spending spender's allowance.
// An allowance of 2^256-1 is treated as unlimited.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if spender != from {
		allowed := l.Allowance(token, from, spender)
		if allowed.Lt(amount) {
			return fmt.Errorf("%w: %s approved %s of %s for %s, needs %s",
				ErrInsufficientAllowance, from.Hex(), dec(allowed), token.Hex(), spender.Hex(), dec(amount))
		}
		if !allowed.Eq(maxAllowance) {
			l.setAllowance(token, from, spender, allowed.Sub(allowed, amount))
		}
	}
	return l.Transfer(token, from, to, amount)
}

// TransferNative moves native value between accounts.
func (l *Ledger) TransferNative(from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() || from == to {
		return nil
	}
	have := l.NativeBalance(from)
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s native, needs %s", ErrInsufficientBalance, from.Hex(), dec(have), dec(amount))
	}
	l.setNative(from, have.Sub(have, amount))
	l.setNative(to, new(uint256.Int).Add(l.NativeBalance(to), amount))
	return nil
}

// Wrap converts holder's native value into the wrapped native token.
func (l *Ledger) Wrap(holder common.Address, amount *uint256.Int) error {
	if l.wrappedNative == (common.Address{}) {
		return ErrNoWrappedNative
	}
	have := l.NativeBalance(holder)
	if have.Lt(amount) {
		return fmt.Errorf("wrap: %w: %s holds %s native, needs %s", ErrInsufficientBalance, holder.Hex(), dec(have), dec(amount))
	}
	l.setNative(holder, have.Sub(have, amount))
	return l.Mint(l.wrappedNative, holder, amount)
}

// Unwrap converts holder's wrapped native token back into native value.
func (l *Ledger) Unwrap(holder common.Address, amount *uint256.Int) error {
	if l.wrappedNative == (common.Address{}) {
		return ErrNoWrappedNative
	}
	have := l.BalanceOf(l.wrappedNative, holder)
	if have.Lt(amount) {
		return fmt.Errorf("unwrap: %w: %s holds %s wrapped, needs %s", ErrInsufficientBalance, holder.Hex(), dec(have), dec(amount))
	}
	l.setBalance(l.wrappedNative, holder, have.Sub(have, amount))
	return l.FundNative(holder, amount)
}

func (l *Ledger) setBalance(token, holder common.Address, value *uint256.Int) {
	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[common.Address]*uint256.Int)
		l.balances[token] = holders
	}
	prev, existed := holders[holder]
	holders[holder] = value
	l.journal.Append(func() {
		if existed {
			holders[holder] = prev
		} else {
			delete(holders, holder)
		}
	})
}

func (l *Ledger) setAllowance(token, owner, spender common.Address, value *uint256.Int) {
	entries, ok := l.allowances[token]
	if !ok {
		entries = make(map[allowanceKey]*uint256.Int)
		l.allowances[token] = entries
	}
	key := allowanceKey{owner, spender}
	prev, existed := entries[key]
	entries[key] = value
	l.journal.Append(func() {
		if existed {
			entries[key] = prev
		} else {
			delete(entries, key)
		}
	})
}

func (l *Ledger) setNative(holder common.Address, value *uint256.Int) {
	prev, existed := l.native[holder]
	l.native[holder] = value
	l.journal.Append(func() {
		if existed {
			l.native[holder] = prev
		} else {
			delete(l.native, holder)
		}
	})
}

func dec(v *uint256.Int) string {
	return v.ToBig().String()
}
