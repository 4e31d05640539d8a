package bridgestore

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// sqlTransfer mirrors one transfer row for scanning.
type sqlTransfer struct {
	ID                 string
	Direction          string
	SourceAddress      string
	DestinationAddress string
	Amount             string
	Fee                string
	Status             string
	VerificationHash   string
	SourceTxHash       sql.NullString
	DestinationTxHash  sql.NullString
	RefundTxHash       sql.NullString
	RetryCount         int
	ErrorMessage       sql.NullString
	CreatedAt          int64
	CompletedAt        sql.NullInt64
}

func (r *sqlTransfer) scanArgs() []interface{} {
	return []interface{}{
		&r.ID,
		&r.Direction,
		&r.SourceAddress,
		&r.DestinationAddress,
		&r.Amount,
		&r.Fee,
		&r.Status,
		&r.VerificationHash,
		&r.SourceTxHash,
		&r.DestinationTxHash,
		&r.RefundTxHash,
		&r.RetryCount,
		&r.ErrorMessage,
		&r.CreatedAt,
		&r.CompletedAt,
	}
}

func (r *sqlTransfer) decode() (*Transfer, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, err
	}
	fee, err := decimal.NewFromString(r.Fee)
	if err != nil {
		return nil, err
	}

	t := &Transfer{
		ID:                 r.ID,
		Direction:          Direction(r.Direction),
		SourceAddress:      r.SourceAddress,
		DestinationAddress: r.DestinationAddress,
		Amount:             amount,
		Fee:                fee,
		Status:             Status(r.Status),
		VerificationHash:   r.VerificationHash,
		SourceTxHash:       r.SourceTxHash.String,
		DestinationTxHash:  r.DestinationTxHash.String,
		RefundTxHash:       r.RefundTxHash.String,
		RetryCount:         r.RetryCount,
		ErrorMessage:       r.ErrorMessage.String,
		CreatedAt:          time.UnixMilli(r.CreatedAt).UTC(),
	}
	if r.CompletedAt.Valid {
		at := time.UnixMilli(r.CompletedAt.Int64).UTC()
		t.CompletedAt = &at
	}
	return t, nil
}

func encode(t *Transfer) *sqlTransfer {
	r := &sqlTransfer{
		ID:                 t.ID,
		Direction:          string(t.Direction),
		SourceAddress:      t.SourceAddress,
		DestinationAddress: t.DestinationAddress,
		Amount:             t.Amount.String(),
		Fee:                t.Fee.String(),
		Status:             string(t.Status),
		VerificationHash:   t.VerificationHash,
		RetryCount:         t.RetryCount,
		CreatedAt:          t.CreatedAt.UnixMilli(),
	}
	r.SourceTxHash = nullString(t.SourceTxHash)
	r.DestinationTxHash = nullString(t.DestinationTxHash)
	r.RefundTxHash = nullString(t.RefundTxHash)
	r.ErrorMessage = nullString(t.ErrorMessage)
	if t.CompletedAt != nil {
		r.CompletedAt = sql.NullInt64{Int64: t.CompletedAt.UnixMilli(), Valid: true}
	}
	return r
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
