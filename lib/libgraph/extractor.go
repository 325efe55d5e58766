package libgraph

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/depstore/lib/graph"
	"github.com/ValentinKolb/depstore/lib/graph/classfile"
	"github.com/klauspost/compress/zip"
)

// NodeFunc derives the node of one archive entry. The boolean is false when
// the entry has no ABI and must be skipped.
type NodeFunc func(entryPath string, data []byte) (*graph.Node, bool)

// Result is the graph of one library version
type Result struct {
	Snapshot graph.SourceSnapshot
	Delta    *graph.Delta
}

// EmptyResult returns the result of a library without entries
func EmptyResult() *Result {
	return &Result{Snapshot: graph.SourceSnapshot{}, Delta: graph.NewDelta()}
}

// Extractor turns library archives into graphs
type Extractor struct {
	NodeFunc NodeFunc // nil means classfile.Parse
}

func (x Extractor) nodeFunc() NodeFunc {
	if x.NodeFunc != nil {
		return x.NodeFunc
	}
	return classfile.Parse
}

// Extract reads the archive of lib from r. Every regular entry with ABI
// becomes a node associated with the source <prefix>!/<entry path>, where
// the prefix derives from lib.SourceRoot() and not from lib.Path, and the
// digest of its raw bytes is recorded in the snapshot. ctx is checked
// between entries.
func (x Extractor) Extract(ctx context.Context, lib LibDescriptor, r io.ReaderAt, size int64) (*Result, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", lib.Path, err)
	}

	nodeFn := x.nodeFunc()
	res := EmptyResult()
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s!/%s: %w", lib.Path, f.Name, err)
		}
		node, ok := nodeFn(f.Name, data)
		if !ok || node == nil {
			continue
		}
		src := graph.NewNodeSource(lib.SourceRoot(), f.Name)
		res.Delta.Associate(node, src)
		res.Snapshot[src] = Digest(data)
	}
	return res, nil
}

// ExtractFile opens lib.Path and extracts it
func (x Extractor) ExtractFile(ctx context.Context, lib LibDescriptor) (*Result, error) {
	f, err := os.Open(lib.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return x.Extract(ctx, lib, f, info.Size())
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
