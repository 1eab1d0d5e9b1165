package mmio

import (
	"errors"
	"fmt"
	"log"
	"os"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

const MEM_FILE = "/dev/mem"

// Region is a window of physical memory (or of a register image file) mapped
// into our address space.
type Region struct {
	buf  mmap.MMap
	offs uintptr
	size int
}

// Map opens path and uses mmap to map the given physical address into our
// address space. Since the mapping has to start at a page boundary, the
// physical address is rounded down to the nearest page boundary and the
// offset is remembered so that Pointer returns physAddr itself.
func Map(path string, physAddr uintptr, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid size %d", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %v", path, err)
	}
	defer f.Close() // The mapping stays valid after close

	pageSize := uintptr(unix.Getpagesize())
	mapAddr := physAddr &^ (pageSize - 1)
	mapSize := size + int(physAddr-mapAddr)
	log.Printf("MapRegion(%s, %d, RDWR, 0, %08X), physAddr %08X\n", path, mapSize, mapAddr, physAddr)
	mm, err := mmap.MapRegion(f, mapSize, mmap.RDWR, 0, int64(mapAddr))
	if err != nil {
		return nil, fmt.Errorf("couldn't map region (%08X, %d): %v", physAddr, size, err)
	}
	return &Region{buf: mm, offs: physAddr - mapAddr, size: size}, nil
}

// Pointer returns the address of the first mapped byte at the requested
// physical address, ready to be cast to a register overlay.
func (r *Region) Pointer() unsafe.Pointer {
	return unsafe.Pointer(&r.buf[r.offs])
}

// Bytes returns the requested window, without the page rounding.
func (r *Region) Bytes() []byte {
	return r.buf[r.offs : r.offs+uintptr(r.size)]
}

func (r *Region) Size() int {
	return r.size
}

// Flush writes changes back for file-backed mappings. It's a no-op for /dev/mem.
func (r *Region) Flush() error {
	if r.buf == nil {
		return errors.New("region not mapped")
	}
	return r.buf.Flush()
}

func (r *Region) Close() error {
	if r.buf == nil {
		return nil
	}
	err := r.buf.Unmap()
	r.buf = nil
	return err
}
