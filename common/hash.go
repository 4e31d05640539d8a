package common

import (
	"encoding/binary"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// VerificationHash binds a transfer's direction, addresses, amount, a random
// nonce and the creation timestamp into one 32-byte digest. Validators sign
// over digests derived from the same fields, so a replayed request with a
// fresh nonce can never reuse old signatures.
func VerificationHash(direction, sourceAddr, destAddr, amount string, nonce [32]byte, createdAtUnix int64) ethcommon.Hash {
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(createdAtUnix))

	return crypto.Keccak256Hash(
		[]byte(direction),
		[]byte(sourceAddr),
		[]byte(destAddr),
		[]byte(amount),
		nonce[:],
		ts,
	)
}

// SigningHash is the deterministic message a validator signs for one
// transfer. Every validator derives it from the same stored fields, never
// from anything process-local.
func SigningHash(transferID, amount, sourceAddr, destAddr, sourceTxHash string) [32]byte {
	return crypto.Keccak256Hash(
		[]byte(transferID),
		[]byte(amount),
		[]byte(sourceAddr),
		[]byte(destAddr),
		[]byte(sourceTxHash),
	)
}
