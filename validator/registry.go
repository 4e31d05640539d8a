package validator

import (
	"database/sql"
	"errors"
	"time"

	"github.com/verity-protocol/bridge-go/common"
	"github.com/verity-protocol/bridge-go/database"
)

var (
	ErrValidatorNotFound = errors.New("validator not found")
)

// RecordStatus is the liveness status of one validator record.
type RecordStatus string

const (
	RecordActive   RecordStatus = "ACTIVE"
	RecordInactive RecordStatus = "INACTIVE"
)

// validator identity table; a node only writes its own row
var validatorTable = `CREATE TABLE IF NOT EXISTS validator (
	validatorId VARCHAR(64) PRIMARY KEY NOT NULL,
	publicKey TEXT NOT NULL,
	status VARCHAR(10) NOT NULL,
	lastSeen BIGINT NOT NULL,
	CONSTRAINT chk_status CHECK (status IN ('ACTIVE', 'INACTIVE'))
);`

// Record is the identity plus liveness of one validator.
type Record struct {
	ID        string
	PublicKey []byte
	Status    RecordStatus
	LastSeen  time.Time
}

// Registry tracks registered validators and answers the quorum question:
// are enough validators alive that a transfer could eventually collect the
// required number of signatures. That is distinct from whether a specific
// transfer has collected them.
type Registry struct {
	db        *sql.DB
	stmtCache *database.StmtCache
	required  int
}

func NewRegistry(dataSourceName string, required int) (*Registry, error) {
	db, err := database.Open(dataSourceName, validatorTable)
	if err != nil {
		return nil, err
	}
	return &Registry{
		db:        db,
		stmtCache: database.NewStmtCache(db),
		required:  required,
	}, nil
}

func (r *Registry) Close() error {
	r.stmtCache.Clear()
	return r.db.Close()
}

// Register upserts the validator as ACTIVE.
func (r *Registry) Register(id string, publicKey []byte) error {
	stmt, err := r.stmtCache.Prepare(`INSERT INTO validator (validatorId, publicKey, status, lastSeen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(validatorId) DO UPDATE SET publicKey = ?, status = ?, lastSeen = ?`)
	if err != nil {
		return err
	}

	pkHex := common.ByteSliceToPureHexStr(publicKey)
	now := time.Now().UTC().UnixMilli()
	active := string(RecordActive)
	_, err = stmt.Exec(id, pkHex, active, now, pkHex, active, now)
	return err
}

// Remove marks the validator INACTIVE. Records are kept, not deleted, so a
// signature from a since-removed validator can still be attributed.
func (r *Registry) Remove(id string) error {
	stmt, err := r.stmtCache.Prepare(`UPDATE validator SET status = ? WHERE validatorId = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.Exec(string(RecordInactive), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrValidatorNotFound
	}
	return nil
}

// Heartbeat refreshes the validator's last-seen timestamp.
func (r *Registry) Heartbeat(id string) error {
	stmt, err := r.stmtCache.Prepare(`UPDATE validator SET lastSeen = ? WHERE validatorId = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.Exec(time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrValidatorNotFound
	}
	return nil
}

func (r *Registry) Get(id string) (*Record, error) {
	stmt, err := r.stmtCache.Prepare(`SELECT validatorId, publicKey, status, lastSeen
		FROM validator WHERE validatorId = ?`)
	if err != nil {
		return nil, err
	}

	var (
		rec      Record
		pkHex    string
		status   string
		lastSeen int64
	)
	if err := stmt.QueryRow(id).Scan(&rec.ID, &pkHex, &status, &lastSeen); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrValidatorNotFound
		}
		return nil, err
	}
	rec.PublicKey = common.HexStrToByteSlice(pkHex)
	rec.Status = RecordStatus(status)
	rec.LastSeen = time.UnixMilli(lastSeen).UTC()
	return &rec, nil
}

// PublicKey returns the registered key of a validator regardless of its
// liveness status: a signature collected before the validator went INACTIVE
// must still be attributable. Liveness gates only the quorum-availability
// count, never signature counting.
func (r *Registry) PublicKey(id string) ([]byte, error) {
	rec, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return rec.PublicKey, nil
}

func (r *Registry) ActiveCount() (int, error) {
	stmt, err := r.stmtCache.Prepare(`SELECT COUNT(*) FROM validator WHERE status = ?`)
	if err != nil {
		return 0, err
	}
	var count int
	if err := stmt.QueryRow(string(RecordActive)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// HasQuorum reports whether enough validators are active to ever reach the
// signature threshold. A store error counts as no quorum.
func (r *Registry) HasQuorum() bool {
	count, err := r.ActiveCount()
	if err != nil {
		return false
	}
	return count >= r.required
}

func (r *Registry) Required() int {
	return r.required
}

// RegistryStats is the read-only projection for operators.
type RegistryStats struct {
	Active   int
	Required int
	Quorum   bool
}

func (r *Registry) Stats() (*RegistryStats, error) {
	count, err := r.ActiveCount()
	if err != nil {
		return nil, err
	}
	return &RegistryStats{
		Active:   count,
		Required: r.required,
		Quorum:   count >= r.required,
	}, nil
}
