package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// listSubDirIDs returns the integer-named subdirectories directly under
// dir, sorted ascending; a DataSet's streams are its subdirectories 0, 1,
// ..., n_stream-1.
func listSubDirIDs(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func subDirPath(dir string, id int) string {
	return filepath.Join(dir, strconv.Itoa(id))
}
