//go:build unix

package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Dir is where named regions live.
const Dir = "/dev/shm"

// MaxNameLength is the longest accepted region name.
const MaxNameLength = 255

// Region is a shared-memory file mapped into this process.
type Region struct {
	name string
	path string
	data []byte
}

// ValidateName checks that name can address a file under Dir.
func ValidateName(name string) error {
	switch {
	case name == "":
		return NewError(ErrCodeInvalidName, "region name is empty", nil)
	case len(name) > MaxNameLength:
		return NewError(ErrCodeInvalidName, fmt.Sprintf("region name longer than %d characters", MaxNameLength), nil)
	case strings.ContainsRune(name, '/') || name == "." || name == "..":
		return NewError(ErrCodeInvalidName, fmt.Sprintf("region name %q is not a plain file name", name), nil)
	}
	return nil
}

// PathFor returns the file backing region name.
func PathFor(name string) string {
	return filepath.Join(Dir, name)
}

// Open maps the existing region name read-write.
func Open(name string) (*Region, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return OpenPath(PathFor(name))
}

// OpenPath maps the file at path read-write. The consumer needs write access
// to publish its read progress.
func OpenPath(path string) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, NewError(ErrCodeNotFound, fmt.Sprintf("region %s does not exist", path), err)
		}
		return nil, NewError(ErrCodeMappingFailed, fmt.Sprintf("open %s", path), err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, NewError(ErrCodeMappingFailed, fmt.Sprintf("stat %s", path), err)
	}
	if st.Size < ControlBlockSize {
		return nil, NewError(ErrCodeInvalidLayout,
			fmt.Sprintf("region %s is %d bytes, smaller than control block (%d)", path, st.Size, ControlBlockSize), nil)
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, NewError(ErrCodeMappingFailed, fmt.Sprintf("mmap %s", path), err)
	}
	return &Region{name: filepath.Base(path), path: path, data: data}, nil
}

// Create makes (or truncates) a region of size bytes at path and maps it.
// Used by the synthetic producer.
func Create(path string, size int) (*Region, error) {
	if size < ControlBlockSize {
		return nil, NewError(ErrCodeInvalidLayout,
			fmt.Sprintf("region size %d is smaller than control block (%d)", size, ControlBlockSize), nil)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC|unix.O_CLOEXEC, 0o666)
	if err != nil {
		return nil, NewError(ErrCodeMappingFailed, fmt.Sprintf("create %s", path), err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, NewError(ErrCodeMappingFailed, fmt.Sprintf("truncate %s", path), err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, NewError(ErrCodeMappingFailed, fmt.Sprintf("mmap %s", path), err)
	}
	return &Region{name: filepath.Base(path), path: path, data: data}, nil
}

// Remove unlinks the file backing path. Existing mappings stay valid.
func Remove(path string) error {
	if err := unix.Unlink(path); err != nil && !errors.Is(err, unix.ENOENT) {
		return err
	}
	return nil
}

// Name returns the region name.
func (r *Region) Name() string {
	return r.name
}

// Path returns the backing file path.
func (r *Region) Path() string {
	return r.path
}

// Bytes returns the mapped memory. It must not be used after Close.
func (r *Region) Bytes() []byte {
	return r.data
}

// Size returns the mapped length.
func (r *Region) Size() int {
	return len(r.data)
}

// Close unmaps the region.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	data := r.data
	r.data = nil
	if err := unix.Munmap(data); err != nil {
		return NewError(ErrCodeMappingFailed, "munmap "+r.path, err)
	}
	return nil
}

// Exists reports whether region name is present.
func Exists(name string) bool {
	_, err := os.Stat(PathFor(name))
	return err == nil
}
