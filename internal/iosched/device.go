package iosched

import (
	"bufio"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// cpuDevice is the pseudo-device slot reserved for non-I/O tasks (image
// decoding in DataMux).
const cpuDevice = -1

// identifyPhysicalDisk coarsens a Linux device id down to a "physical disk"
// slot by integer-dividing the minor number by 16, so that partitions of
// the same disk share one slot. The formula is Linux-specific; porting
// means swapping this function, nothing else.
func identifyPhysicalDisk(dev uint64) int64 {
	return int64(dev / 16)
}

// deviceTable maps physical-disk identifiers to logical device slots. It is
// immutable after construction.
type deviceTable struct {
	slotOf map[int64]int
	cpu    int
}

// buildDeviceTable reads /proc/mounts and assigns a logical slot to every
// block device backing a mount, plus one pseudo-device slot for CPU-bound
// tasks.
func buildDeviceTable() (*deviceTable, error) {
	disks := map[int64]bool{}

	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		dev := fields[0]
		if !strings.HasPrefix(dev, "/") {
			continue
		}
		var st unix.Stat_t
		if err := unix.Stat(dev, &st); err != nil {
			continue
		}
		if st.Mode&unix.S_IFMT != unix.S_IFBLK {
			continue
		}
		disks[identifyPhysicalDisk(st.Rdev)] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	t := &deviceTable{slotOf: make(map[int64]int)}
	slot := 0
	for disk := range disks {
		t.slotOf[disk] = slot
		slot++
	}
	t.cpu = slot
	return t, nil
}

// identify resolves path to a logical device slot by stat()-ing it and
// looking up its physical disk in the table. The table is immutable after
// construction; a path on a disk that wasn't enumerated from /proc/mounts
// (an overlay or network filesystem, say) falls back to the CPU slot rather
// than failing outright.
func (t *deviceTable) identify(path string) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	disk := identifyPhysicalDisk(st.Dev)
	if slot, ok := t.slotOf[disk]; ok {
		return slot, nil
	}
	return t.cpu, nil
}

// CPUSlot returns the logical device slot reserved for CPU-bound tasks.
func (t *deviceTable) CPUSlot() int { return t.cpu }
