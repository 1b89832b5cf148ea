package scenario

import (
	"bytes"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"lpManager/internal/model"
	"lpManager/internal/position"
)

func addRecord(res *position.AddResult, pool common.Address) model.OperationRecord {
	rec := model.OperationRecord{
		ID:          res.ID,
		Kind:        model.OperationAddLP,
		Owner:       res.Key.Owner.Hex(),
		Pool:        pool.Hex(),
		TickLower:   res.Key.Range.TickLower,
		TickUpper:   res.Key.Range.TickUpper,
		Liquidity:   res.Liquidity.ToBig().String(),
		Amount0:     res.Amount0.ToBig().String(),
		Amount1:     res.Amount1.ToBig().String(),
		CompletedAt: res.CompletedAt.UTC().Format(time.RFC3339Nano),
	}
	if res.NativeCase != model.NeitherIsNative {
		rec.NativeCase = res.NativeCase.String()
		rec.NativeUsed = res.NativeUsed.ToBig().String()
	}
	return rec
}

// removeRecord reports the amounts actually collected to the owner.
func removeRecord(res *position.RemoveResult, pool common.Address) model.OperationRecord {
	rec := model.OperationRecord{
		ID:          res.ID,
		Kind:        model.OperationRemoveLP,
		Owner:       res.Key.Owner.Hex(),
		Pool:        pool.Hex(),
		TickLower:   res.Key.Range.TickLower,
		TickUpper:   res.Key.Range.TickUpper,
		Liquidity:   res.Liquidity.ToBig().String(),
		Amount0:     res.Collected0.ToBig().String(),
		Amount1:     res.Collected1.ToBig().String(),
		Closed:      res.Closed,
		CompletedAt: res.CompletedAt.UTC().Format(time.RFC3339Nano),
	}
	if res.NativeCase != model.NeitherIsNative {
		rec.NativeCase = res.NativeCase.String()
	}
	return rec
}

func rejectedRecord(kind string, owner, pool common.Address, r model.PriceRange, at time.Time, err error) model.OperationRecord {
	return model.OperationRecord{
		ID:          uuid.NewString(),
		Kind:        kind,
		Owner:       owner.Hex(),
		Pool:        pool.Hex(),
		TickLower:   r.TickLower,
		TickUpper:   r.TickUpper,
		Error:       err.Error(),
		CompletedAt: at.UTC().Format(time.RFC3339Nano),
	}
}

func positionRecord(pos *model.Position, pool common.Address, closed bool) model.PositionRecord {
	return model.PositionRecord{
		Owner:       pos.Key.Owner.Hex(),
		Pool:        pool.Hex(),
		TickLower:   pos.Key.Range.TickLower,
		TickUpper:   pos.Key.Range.TickUpper,
		Liquidity:   pos.Liquidity.ToBig().String(),
		TokensOwed0: pos.TokensOwed0.ToBig().String(),
		TokensOwed1: pos.TokensOwed1.ToBig().String(),
		Closed:      closed,
	}
}

func sortPositionRecords(records []model.PositionRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if c := bytes.Compare(common.HexToAddress(a.Owner).Bytes(), common.HexToAddress(b.Owner).Bytes()); c != 0 {
			return c < 0
		}
		if a.Pool != b.Pool {
			return a.Pool < b.Pool
		}
		if a.TickLower != b.TickLower {
			return a.TickLower < b.TickLower
		}
		return a.TickUpper < b.TickUpper
	})
}
