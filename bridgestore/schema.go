package bridgestore

// table that stores the life cycle of a bridge transfer
var transferTable = `CREATE TABLE IF NOT EXISTS transfer (
	id CHAR(36) PRIMARY KEY NOT NULL,
	direction VARCHAR(16) NOT NULL,
	sourceAddress VARCHAR(64) NOT NULL,
	destinationAddress VARCHAR(64) NOT NULL,
	amount VARCHAR(48) NOT NULL,
	fee VARCHAR(48) NOT NULL,
	status VARCHAR(12) NOT NULL,
	verificationHash CHAR(66) NOT NULL,
	sourceTxHash VARCHAR(96),
	destinationTxHash VARCHAR(96),
	refundTxHash VARCHAR(96),
	retryCount INTEGER NOT NULL DEFAULT 0,
	errorMessage TEXT,
	createdAt BIGINT NOT NULL,
	completedAt BIGINT,
	CONSTRAINT chk_direction CHECK (direction IN ('XRPL_TO_SOLANA', 'SOLANA_TO_XRPL')),
	CONSTRAINT chk_status CHECK (status IN (
		'INITIATED', 'LOCKED', 'VALIDATING', 'MINTING',
		'RELEASING', 'COMPLETED', 'FAILED', 'REFUNDED')),
	CONSTRAINT chk_addresses CHECK (sourceAddress != '' AND destinationAddress != ''),
	CONSTRAINT chk_retry CHECK (retryCount >= 0)
);`

// append-only table of validator signatures; one row per (transfer,
// validator) so concurrent validators never contend on the transfer row
var signatureTable = `CREATE TABLE IF NOT EXISTS signature (
	transferId CHAR(36) NOT NULL,
	validatorId VARCHAR(64) NOT NULL,
	signature TEXT NOT NULL,
	signedAt BIGINT NOT NULL,
	PRIMARY KEY (transferId, validatorId)
);`

const transferColumns = `id, direction, sourceAddress, destinationAddress, amount, fee,
	status, verificationHash, sourceTxHash, destinationTxHash, refundTxHash,
	retryCount, errorMessage, createdAt, completedAt`
