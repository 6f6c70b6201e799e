package directfile

import (
	"errors"
	"fmt"
	"math/rand"

	"striper/internal/errs"
	"striper/internal/record"
)

// loadAll reads every container out of the DirectFile at path into memory.
func loadAll(path string) ([]*record.Container, error) {
	f, err := OpenRead(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var containers []*record.Container
	for {
		buf, sz, err := f.AllocRead()
		if errors.Is(err, errs.ErrEndOfStream) {
			break
		}
		if err != nil {
			return nil, err
		}
		c, err := record.FromBuffer(buf, sz, 0)
		if err != nil {
			return nil, err
		}
		containers = append(containers, c)
	}
	return containers, nil
}

// Shuffle reads every record out of the file at inPath, permutes their
// order with rng, and repacks them into a fresh file at outPath sized to
// match inPath's largest source container. outPath must not already exist.
func Shuffle(inPath, outPath string, rng *rand.Rand) error {
	all, err := loadAll(inPath)
	if err != nil {
		return err
	}

	type coord struct{ container, record int }
	var index []coord
	containerSize := 0
	for i, c := range all {
		if c.PackedSize() > containerSize {
			containerSize = c.PackedSize()
		}
		for j := 0; j < c.Size(); j++ {
			index = append(index, coord{i, j})
		}
	}
	// One extra block of slack: Add rejects a record that would exactly
	// reach the buffer end, so a container packed full to the block
	// boundary needs strictly more room in the output.
	containerSize += record.IOBlockSize
	rng.Shuffle(len(index), func(i, j int) { index[i], index[j] = index[j], index[i] })

	out, err := OpenWrite(outPath, 0)
	if err != nil {
		return err
	}

	cur, err := record.Empty(containerSize)
	if err != nil {
		_ = out.Close()
		return err
	}
	for _, co := range index {
		rec := all[co.container].At(co.record)
		for {
			ok, err := cur.Add(rec)
			if err != nil {
				_ = out.Close()
				return err
			}
			if ok {
				break
			}
			if cur.Size() == 0 {
				_ = out.Close()
				return fmt.Errorf("striper: record storage size %d exceeds shuffle container capacity %d",
					rec.StorageSize(), containerSize)
			}
			buf, sz, err := cur.Pack()
			if err != nil {
				_ = out.Close()
				return err
			}
			if err := out.WriteFree(buf, sz); err != nil {
				_ = out.Close()
				return err
			}
			cur, err = record.Empty(containerSize)
			if err != nil {
				_ = out.Close()
				return err
			}
		}
	}
	if cur.Size() > 0 {
		buf, sz, err := cur.Pack()
		if err != nil {
			_ = out.Close()
			return err
		}
		if err := out.WriteFree(buf, sz); err != nil {
			_ = out.Close()
			return err
		}
	}
	return out.Close()
}
