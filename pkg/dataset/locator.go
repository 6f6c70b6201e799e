package dataset

// Locator identifies a record's coordinates within a DataSet: which stream,
// which file within that stream, which container within that file, and
// which offset within that container. The streaming read/write API never
// needs one; offline tooling (Sample, index builders) does.
type Locator struct {
	Stream    uint32
	File      uint32
	Container uint32
	Offset    uint32
}
