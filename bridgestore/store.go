package bridgestore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/verity-protocol/bridge-go/agreement"
	"github.com/verity-protocol/bridge-go/common"
	"github.com/verity-protocol/bridge-go/database"
)

// Store is the single source of truth for every bridge transfer. All
// components read and write through it; status is only ever changed through
// UpdateCAS so two concurrent sweeps can never both advance the same record.
type Store struct {
	db        *sql.DB
	stmtCache *database.StmtCache
}

func New(dataSourceName string) (*Store, error) {
	db, err := database.Open(dataSourceName, transferTable+signatureTable)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:        db,
		stmtCache: database.NewStmtCache(db),
	}, nil
}

func (s *Store) Close() error {
	s.stmtCache.Clear()
	return s.db.Close()
}

// Ping probes the store for the health check.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Insert persists a freshly initiated transfer. Invariants that do not
// depend on chain state are enforced here, before anything is stored.
func (s *Store) Insert(t *Transfer) error {
	if !t.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidTransfer, t.Direction)
	}
	if t.Status != StatusInitiated {
		return fmt.Errorf("%w: new transfers must be %s, got %s", ErrInvalidTransfer, StatusInitiated, t.Status)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidTransfer)
	}
	if t.Fee.IsNegative() || t.Fee.GreaterThanOrEqual(t.Amount) {
		return fmt.Errorf("%w: fee must satisfy 0 <= fee < amount", ErrInvalidTransfer)
	}

	query := `INSERT INTO transfer (` + transferColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt := s.stmtCache.MustPrepare(query)

	r := encode(t)
	_, err := stmt.Exec(
		r.ID, r.Direction, r.SourceAddress, r.DestinationAddress, r.Amount, r.Fee,
		r.Status, r.VerificationHash, r.SourceTxHash, r.DestinationTxHash, r.RefundTxHash,
		r.RetryCount, r.ErrorMessage, r.CreatedAt, r.CompletedAt,
	)
	return err
}

// GetByID returns the transfer with its signatures, or (nil, nil) when no
// such transfer exists.
func (s *Store) GetByID(id string) (*Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfer WHERE id = ?`
	stmt := s.stmtCache.MustPrepare(query)

	var r sqlTransfer
	if err := stmt.QueryRow(id).Scan(r.scanArgs()...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	t, err := r.decode()
	if err != nil {
		return nil, err
	}
	t.Signatures, err = s.Signatures(id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Filter selects transfers in Find. Zero values mean "no constraint".
type Filter struct {
	Statuses      []Status
	Direction     Direction
	Address       string // matches source or destination address
	CreatedBefore time.Time
	NonTerminal   bool
}

// Find returns transfers matching f, oldest or newest first, capped to
// limit (<= 0 means no cap). Signatures are loaded for every hit.
func (s *Store) Find(f *Filter, oldestFirst bool, limit int) ([]*Transfer, error) {
	var (
		conds []string
		args  []interface{}
	)

	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.NonTerminal {
		conds = append(conds, "status NOT IN (?, ?)")
		args = append(args, string(StatusCompleted), string(StatusRefunded))
	}
	if f.Direction != "" {
		conds = append(conds, "direction = ?")
		args = append(args, string(f.Direction))
	}
	if f.Address != "" {
		conds = append(conds, "(sourceAddress = ? OR destinationAddress = ?)")
		args = append(args, f.Address, f.Address)
	}
	if !f.CreatedBefore.IsZero() {
		conds = append(conds, "createdAt < ?")
		args = append(args, f.CreatedBefore.UnixMilli())
	}

	query := `SELECT ` + transferColumns + ` FROM transfer`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if oldestFirst {
		query += " ORDER BY createdAt ASC"
	} else {
		query += " ORDER BY createdAt DESC"
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*Transfer
	for rows.Next() {
		var r sqlTransfer
		if err := rows.Scan(r.scanArgs()...); err != nil {
			return nil, err
		}
		t, err := r.decode()
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range transfers {
		t.Signatures, err = s.Signatures(t.ID)
		if err != nil {
			return nil, err
		}
	}
	return transfers, nil
}

// Patch describes the fields one UpdateCAS call may change. Nil pointers
// leave the column untouched.
type Patch struct {
	Status            *Status
	SourceTxHash      *string
	DestinationTxHash *string
	RefundTxHash      *string
	ErrorMessage      *string // set to "" to clear
	CompletedAt       *time.Time
	IncrementRetry    bool
}

// UpdateCAS applies patch iff the stored status still equals expected: a
// compare-and-swap on status. A CAS miss returns ErrStaleStatus, meaning a
// concurrent loop already advanced the record and the caller should simply
// move on. Status changes must follow the forward transition table or the
// shared retry-reset rule.
func (s *Store) UpdateCAS(id string, expected Status, patch *Patch) error {
	var (
		sets []string
		args []interface{}
	)

	if patch.Status != nil {
		to := *patch.Status
		if to != expected && !CanAdvance(expected, to) && !isRetryReset(expected, to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, expected, to)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(to))
	}
	if patch.SourceTxHash != nil {
		sets = append(sets, "sourceTxHash = ?")
		args = append(args, nullString(*patch.SourceTxHash))
	}
	if patch.DestinationTxHash != nil {
		sets = append(sets, "destinationTxHash = ?")
		args = append(args, nullString(*patch.DestinationTxHash))
	}
	if patch.RefundTxHash != nil {
		sets = append(sets, "refundTxHash = ?")
		args = append(args, nullString(*patch.RefundTxHash))
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "errorMessage = ?")
		args = append(args, nullString(*patch.ErrorMessage))
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completedAt = ?")
		args = append(args, patch.CompletedAt.UnixMilli())
	}
	if patch.IncrementRetry {
		sets = append(sets, "retryCount = retryCount + 1")
	}
	if len(sets) == 0 {
		return ErrEmptyPatch
	}

	query := "UPDATE transfer SET " + strings.Join(sets, ", ") + " WHERE id = ? AND status = ?"
	args = append(args, id, string(expected))

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		exists, err := s.has(id)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStaleStatus
	}
	return nil
}

func isRetryReset(from, to Status) bool {
	reset, ok := RetryReset(from)
	return ok && reset == to
}

func (s *Store) has(id string) (bool, error) {
	stmt := s.stmtCache.MustPrepare(`SELECT EXISTS(SELECT 1 FROM transfer WHERE id = ?)`)
	var exists bool
	if err := stmt.QueryRow(id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// AppendSignature records one validator's signature and returns the fresh
// signature count. A duplicate (transfer, validator) pair is ignored, so a
// validator re-submitting after a crash cannot inflate the count.
func (s *Store) AppendSignature(transferID string, sig *agreement.ValidatorSignature) (int, error) {
	exists, err := s.has(transferID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrNotFound
	}

	stmt := s.stmtCache.MustPrepare(`INSERT OR IGNORE INTO signature
		(transferId, validatorId, signature, signedAt) VALUES (?, ?, ?, ?)`)
	if _, err := stmt.Exec(
		transferID,
		sig.ValidatorID,
		common.ByteSliceToPureHexStr(sig.Signature),
		sig.SignedAt.UnixMilli(),
	); err != nil {
		return 0, err
	}

	return s.SignatureCount(transferID)
}

// Signatures returns the append-ordered signature list for a transfer.
func (s *Store) Signatures(transferID string) ([]agreement.ValidatorSignature, error) {
	stmt := s.stmtCache.MustPrepare(`SELECT validatorId, signature, signedAt
		FROM signature WHERE transferId = ? ORDER BY signedAt ASC, validatorId ASC`)

	rows, err := stmt.Query(transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sigs []agreement.ValidatorSignature
	for rows.Next() {
		var (
			validatorID string
			sigHex      string
			signedAt    int64
		)
		if err := rows.Scan(&validatorID, &sigHex, &signedAt); err != nil {
			return nil, err
		}
		sigs = append(sigs, agreement.ValidatorSignature{
			ValidatorID: validatorID,
			Signature:   common.HexStrToByteSlice(sigHex),
			SignedAt:    time.UnixMilli(signedAt).UTC(),
		})
	}
	return sigs, rows.Err()
}

func (s *Store) SignatureCount(transferID string) (int, error) {
	stmt := s.stmtCache.MustPrepare(`SELECT COUNT(*) FROM signature WHERE transferId = ?`)
	var count int
	if err := stmt.QueryRow(transferID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Stats is the read-only aggregate projection over the store.
type Stats struct {
	Total           int64
	Completed       int64
	Pending         int64
	Failed          int64
	Refunded        int64
	TotalVolume     decimal.Decimal
	AvgCompletionMs int64
}

// Aggregate computes counts, settled volume and the rolling average
// completion latency over the last lastN completed transfers.
func (s *Store) Aggregate(lastN int) (*Stats, error) {
	stats := &Stats{TotalVolume: decimal.Zero}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM transfer GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch Status(status) {
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		case StatusRefunded:
			stats.Refunded = count
		default:
			stats.Pending += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// settled volume: summed in decimal, never in sqlite float arithmetic
	volRows, err := s.db.Query(`SELECT amount FROM transfer WHERE status = ?`, string(StatusCompleted))
	if err != nil {
		return nil, err
	}
	defer volRows.Close()
	for volRows.Next() {
		var amount string
		if err := volRows.Scan(&amount); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, err
		}
		stats.TotalVolume = stats.TotalVolume.Add(d)
	}
	if err := volRows.Err(); err != nil {
		return nil, err
	}

	if lastN > 0 {
		row := s.db.QueryRow(`SELECT COALESCE(AVG(latency), 0) FROM (
			SELECT completedAt - createdAt AS latency FROM transfer
			WHERE status = ? AND completedAt IS NOT NULL
			ORDER BY completedAt DESC LIMIT ?)`, string(StatusCompleted), lastN)
		var avg float64
		if err := row.Scan(&avg); err != nil {
			return nil, err
		}
		stats.AvgCompletionMs = int64(avg)
	}

	return stats, nil
}
