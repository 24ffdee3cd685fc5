package rockyardkv

// errors.go declares the flat error taxonomy the storage core surfaces
// to its callers.
//
// Kept flat rather than wrapped in a Status/Code hierarchy, following
// the teacher's own plain-sentinel-error idiom (see, e.g.,
// column_family.go's ErrColumnFamilyNotFound/ErrColumnFamilyExists):
// one exported var per kind, all checked with errors.Is.

import "errors"

var (
	// ErrIO is returned when the filesystem broker reports failure, or
	// a read/write comes back short.
	ErrIO = errors.New("rangestore: io error")

	// ErrCorruptCellStore covers a cell store whose trailer version,
	// block magic, checksum, or index offsets fail validation.
	ErrCorruptCellStore = errors.New("rangestore: corrupt cell store")

	// ErrBlockCompressorBadMagic indicates a compressed block header's
	// magic does not match the expected value.
	ErrBlockCompressorBadMagic = errors.New("rangestore: block compressor bad magic")

	// ErrBlockCompressorChecksumMismatch indicates a compressed
	// block's checksum does not match its recomputed value.
	ErrBlockCompressorChecksumMismatch = errors.New("rangestore: block compressor checksum mismatch")

	// ErrBlockCompressorTruncated indicates a compressed block ended
	// before its declared length.
	ErrBlockCompressorTruncated = errors.New("rangestore: block compressor truncated")

	// ErrBlockCompressorInflateError indicates a compressed block
	// failed to decompress.
	ErrBlockCompressorInflateError = errors.New("rangestore: block compressor inflate error")

	// ErrBlockCompressorInvalidArg indicates a compressor received an
	// argument it cannot act on (unsupported level, bad block size).
	ErrBlockCompressorInvalidArg = errors.New("rangestore: block compressor invalid argument")

	// ErrBlockCompressorInitError indicates a compressor failed to
	// initialize.
	ErrBlockCompressorInitError = errors.New("rangestore: block compressor init error")

	// ErrSerializationInputOverrun indicates a decode read past the
	// end of its input buffer.
	ErrSerializationInputOverrun = errors.New("rangestore: serialization input overrun")

	// ErrSerializationBadVint indicates a varint decode encountered
	// malformed continuation bytes.
	ErrSerializationBadVint = errors.New("rangestore: serialization bad varint")

	// ErrSerializationBadVstr indicates a length-prefixed string
	// decode's declared length exceeds the remaining input.
	ErrSerializationBadVstr = errors.New("rangestore: serialization bad length-prefixed string")

	// ErrBadKey indicates a serialized key failed to parse.
	ErrBadKey = errors.New("rangestore: bad key")

	// ErrInvalidColumnFamily indicates a scan referenced a column
	// family name unknown to the schema.
	ErrInvalidColumnFamily = errors.New("rangestore: invalid column family")

	// ErrRowOverflow indicates a split failed because no valid split
	// row exists within the range's bounds.
	ErrRowOverflow = errors.New("rangestore: row overflow")

	// ErrCancelled indicates a maintenance operation was aborted
	// because its range was dropped mid-operation.
	ErrCancelled = errors.New("rangestore: cancelled")

	// ErrSchemaGenerationMismatch indicates a write carried a schema
	// generation older than the one the range currently holds. It is
	// advisory: callers handle it by refreshing their schema, not by
	// failing the write outright.
	ErrSchemaGenerationMismatch = errors.New("rangestore: schema generation mismatch")

	// ErrResponseTruncated indicates an RPC payload, decoded with this
	// package's serialization primitives, ended before the response it
	// described was complete. Protocol-side only; the storage core
	// itself never originates this, it only surfaces it on decode.
	ErrResponseTruncated = errors.New("rangestore: response truncated")

	// ErrRangeServerCorruptCommitLog indicates a replayed commit log
	// block's table identifier does not match the range replaying it.
	ErrRangeServerCorruptCommitLog = errors.New("rangestore: commit log table identifier mismatch")
)
