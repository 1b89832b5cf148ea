package position

import (
	"fmt"

	"github.com/holiman/uint256"

	"lpManager/internal/model"
)

// put stores pos under key, or deletes key when pos is nil. The previous
// entry is restored if the enclosing operation reverts.
func (m *Manager) put(key model.PositionKey, pos *model.Position) {
	prev, existed := m.positions[key]
	if pos == nil {
		delete(m.positions, key)
	} else {
		m.positions[key] = pos
	}
	m.ledger.Journal().Append(func() {
		if existed {
			m.positions[key] = prev
		} else {
			delete(m.positions, key)
		}
	})
}

// increase adds liquidity to key's record, first crediting fees earned by the
// liquidity already there so the checkpoint can move.
func (m *Manager) increase(key model.PositionKey, amount, inside0, inside1 *uint256.Int) (*model.Position, error) {
	var pos *model.Position
	if cur, ok := m.positions[key]; ok {
		pos = cur.Clone()
		if _, _, err := accrue(pos, inside0, inside1); err != nil {
			return nil, err
		}
	} else {
		pos = model.NewPosition(key)
		pos.FeeGrowthInside0LastX128 = inside0.Clone()
		pos.FeeGrowthInside1LastX128 = inside1.Clone()
	}
	pos.Liquidity = new(uint256.Int).Add(pos.Liquidity, amount)
	m.put(key, pos)
	return pos, nil
}

// decrease removes liquidity from key's record and credits the freed
// principal and accrued fees to its owed balances.
func (m *Manager) decrease(key model.PositionKey, amount, principal0, principal1, inside0, inside1 *uint256.Int) (*model.Position, *uint256.Int, *uint256.Int, error) {
	cur, ok := m.positions[key]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: no position %s", model.ErrInvalidRange, key.Range)
	}
	pos := cur.Clone()
	fees0, fees1, err := accrue(pos, inside0, inside1)
	if err != nil {
		return nil, nil, nil, err
	}
	if pos.Liquidity.Lt(amount) {
		return nil, nil, nil, fmt.Errorf("%w: remove %s from %s", model.ErrInsufficientLiquidity, amount.ToBig(), pos.Liquidity.ToBig())
	}
	pos.Liquidity = new(uint256.Int).Sub(pos.Liquidity, amount)
	pos.TokensOwed0 = new(uint256.Int).Add(pos.TokensOwed0, principal0)
	pos.TokensOwed1 = new(uint256.Int).Add(pos.TokensOwed1, principal1)
	m.put(key, pos)
	return pos, fees0, fees1, nil
}

// collected zeroes key's owed balances after a collect and drops the record
// once it is closed. A pool may pay out a few units less than owed when its
// own fee rounding falls below the per-owner split; that dust is forfeited.
func (m *Manager) collected(key model.PositionKey, amount0, amount1 *uint256.Int) (*model.Position, error) {
	cur, ok := m.positions[key]
	if !ok {
		return nil, fmt.Errorf("%w: no position %s", model.ErrInvalidRange, key.Range)
	}
	if cur.TokensOwed0.Lt(amount0) || cur.TokensOwed1.Lt(amount1) {
		return nil, fmt.Errorf("%w: collected %s/%s above owed %s/%s", model.ErrArithmeticOverflow,
			amount0.ToBig(), amount1.ToBig(), cur.TokensOwed0.ToBig(), cur.TokensOwed1.ToBig())
	}
	pos := cur.Clone()
	pos.TokensOwed0.Clear()
	pos.TokensOwed1.Clear()
	if pos.Closed() {
		m.put(key, nil)
	} else {
		m.put(key, pos)
	}
	return pos, nil
}
