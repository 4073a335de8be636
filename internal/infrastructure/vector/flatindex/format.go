package flatindex

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

const (
	vectorsFile = "vectors.bin"
	metaFile    = "meta.json"
	currentFile = "CURRENT"
	lockFile    = ".lock"

	formatVersion = 1
	headerSize    = 20
)

var magic = [4]byte{'R', 'Q', 'V', 'X'}

type vectorHeader struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Rows    uint64
}

func writeVectors(path string, dim int, vectors []float32) error {
	if dim <= 0 || len(vectors)%dim != 0 {
		return fmt.Errorf("vector data of %d floats does not fit dim %d", len(vectors), dim)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create vector file: %w", err)
	}
	w := bufio.NewWriter(f)
	header := vectorHeader{
		Magic:   magic,
		Version: formatVersion,
		Dim:     uint32(dim),
		Rows:    uint64(len(vectors) / dim),
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		f.Close()
		return fmt.Errorf("write vector header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, vectors); err != nil {
		f.Close()
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush vectors: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync vectors: %w", err)
	}
	return f.Close()
}

// readVectors checks the header against the file size before reading rows.
func readVectors(path string) (int, []float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("open vector file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, nil, fmt.Errorf("stat vector file: %w", err)
	}
	var header vectorHeader
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return 0, nil, domain.WrapError(domain.ErrIndexCorrupt, "read vector header", err)
	}
	if header.Magic != magic {
		return 0, nil, domain.WrapError(domain.ErrIndexCorrupt, "read vector header", errors.New("bad magic"))
	}
	if header.Version != formatVersion {
		return 0, nil, domain.WrapError(domain.ErrIndexCorrupt, "read vector header", fmt.Errorf("unsupported version %d", header.Version))
	}
	if header.Dim == 0 {
		return 0, nil, domain.WrapError(domain.ErrIndexCorrupt, "read vector header", errors.New("zero dim"))
	}

	expected := int64(headerSize) + int64(header.Rows)*int64(header.Dim)*4
	if st.Size() != expected {
		return 0, nil, domain.WrapError(domain.ErrIndexCorrupt, "read vectors",
			fmt.Errorf("size mismatch: got %d want %d (rows=%d dim=%d)", st.Size(), expected, header.Rows, header.Dim))
	}

	out := make([]float32, int(header.Rows)*int(header.Dim))
	if err := binary.Read(io.LimitReader(f, expected-headerSize), binary.LittleEndian, out); err != nil {
		return 0, nil, domain.WrapError(domain.ErrIndexCorrupt, "read vectors", err)
	}
	return int(header.Dim), out, nil
}

func writeMeta(path string, meta []domain.DocumentChunk) error {
	if meta == nil {
		meta = []domain.DocumentChunk{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync metadata: %w", err)
	}
	return f.Close()
}

func readMeta(path string) ([]domain.DocumentChunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta []domain.DocumentChunk
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "decode metadata", err)
	}
	return meta, nil
}
