// Package dataset implements DataSet: a directory of striped Streams, with
// a Writer for striped, optionally shuffled writes and a Reader for
// sequential, round-robin, and looping read orders, plus the offline
// rotate/verify/sample tooling that operates on a DataSet directory without
// holding it open for streaming I/O.
package dataset
