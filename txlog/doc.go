// Package txlog implements the append-only transaction log.
//
// The log is a sequence of checksummed entries spread over size-rotated
// files, one file per log version. [LogFile] is the single append point:
// it buffers entries, makes them durable on flush according to the
// configured [DurabilityMode], and rotates to a new version once the
// current file passes its size threshold. Each rotation step is ordered
// so that a crash at any point leaves the store recoverable.
//
// [Reader] iterates entries across version boundaries, bridging from the
// end of one file to the start of the next. A missing next file, or one
// whose header never finished writing, marks the true end of the stream.
//
// Entries are framed with a CRC32 checksum and a type tag. Unknown types
// are validated and skipped, so logs written by newer versions remain
// scannable. Command payloads may be compressed; the codec used travels
// in the frame, not in configuration.
package txlog
