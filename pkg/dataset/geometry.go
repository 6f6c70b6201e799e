package dataset

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Geometry describes the shape of a DataSet being written: how many
// parallel streams to stripe across, the maximum size of each underlying
// DirectFile, and the maximum size of each in-memory Container.
type Geometry struct {
	NStream       int
	FileSize      uint64
	ContainerSize int
}

// ParseGeometry builds a Geometry from human-written sizes such as "4GB"
// and "100MB", as a DataMux-style configuration file would carry. It is the
// config-parsing counterpart to the struct literal form used by callers
// that already have byte counts.
func ParseGeometry(nStream int, fileSize, containerSize string) (Geometry, error) {
	fs, err := humanize.ParseBytes(fileSize)
	if err != nil {
		return Geometry{}, fmt.Errorf("striper: parsing file size %q: %w", fileSize, err)
	}
	cs, err := humanize.ParseBytes(containerSize)
	if err != nil {
		return Geometry{}, fmt.Errorf("striper: parsing container size %q: %w", containerSize, err)
	}
	g := Geometry{NStream: nStream, FileSize: fs, ContainerSize: int(cs)}
	return g, g.validate()
}

func (g Geometry) validate() error {
	if g.NStream <= 0 {
		return fmt.Errorf("striper: geometry n_stream must be positive, got %d", g.NStream)
	}
	if g.ContainerSize <= 0 {
		return fmt.Errorf("striper: geometry container_size must be positive, got %d", g.ContainerSize)
	}
	return nil
}

// String renders the geometry using human-readable sizes, for log lines.
func (g Geometry) String() string {
	return fmt.Sprintf("{n_stream=%d file_size=%s container_size=%s}",
		g.NStream, humanize.Bytes(g.FileSize), humanize.Bytes(uint64(g.ContainerSize)))
}
