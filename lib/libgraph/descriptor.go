package libgraph

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// LibDescriptor identifies one version of a library. Two descriptors are the
// same library version when their keys are equal; the path only says where
// to read the archive from. The NodeSources of a library are rooted at its
// name, so a version read from a backup copy yields the same sources as one
// read from the library's usual location.
type LibDescriptor struct {
	Library string
	Digest  string
	Path    string
}

// LibKey is the comparable identity of a LibDescriptor
type LibKey struct {
	Library string
	Digest  string
}

// Key returns the cache key of the descriptor
func (d LibDescriptor) Key() LibKey {
	return LibKey{Library: d.Library, Digest: d.Digest}
}

// SourceRoot returns the prefix root of the NodeSources of the library:
// the library name, or the path when the name is empty
func (d LibDescriptor) SourceRoot() string {
	if d.Library != "" {
		return d.Library
	}
	return d.Path
}

func (d LibDescriptor) String() string {
	return fmt.Sprintf("%s@%s", d.Library, d.Digest)
}

// FormatDigest renders a 64 bit hash as the lowercase hex digest used by
// descriptors and snapshots
func FormatDigest(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}

// Digest returns the digest of data
func Digest(data []byte) string {
	return FormatDigest(xxhash.Sum64(data))
}

// DescribeFile hashes the file at path and returns its descriptor
func DescribeFile(library, path string) (LibDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return LibDescriptor{}, err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return LibDescriptor{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return LibDescriptor{Library: library, Digest: FormatDigest(h.Sum64()), Path: path}, nil
}
