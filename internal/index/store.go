// Package index persists embedding vectors and their metadata records as a
// positionally aligned pair of files: a flat binary vector file searched by
// inner product, and line-delimited JSON metadata. Record i in meta.jsonl
// always describes vector i.
package index

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/wakamiya-lab/grantbot/internal/domain"
)

const (
	vectorsFile = "vectors.bin"
	metaFile    = "meta.jsonl"

	fileMagic   = "GBIX"
	fileVersion = uint32(1)

	// normEpsilon keeps normalization zero-vector safe.
	normEpsilon = 1e-12
)

// ChunkMeta is the metadata record stored per chunk.
type ChunkMeta struct {
	Doc        string `json:"doc"`
	Path       string `json:"path"`
	ChunkID    string `json:"chunk_id"`
	Page       *int   `json:"page,omitempty"`
	TotalPages *int   `json:"total_pages,omitempty"`
}

// Hit is one search result: the stored metadata plus its inner-product score.
type Hit struct {
	Score float64
	Meta  ChunkMeta
}

// FileSummary describes one ingested file, aggregated over its chunks.
type FileSummary struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
	Pages  *int   `json:"pages,omitempty"`
}

// Store owns the on-disk index pair under a single directory. Reads are safe
// concurrently; Rebuild is serialized by an internal single-writer lock and
// replaces both files via temp-write-then-rename so readers observe either
// the fully-old or fully-new pair.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) vectorsPath() string { return filepath.Join(s.dir, vectorsFile) }
func (s *Store) metaPath() string    { return filepath.Join(s.dir, metaFile) }

// Exists reports whether the store is initialized. Both artifacts must be
// present; a lone file is an invalid state and reads as absent.
func (s *Store) Exists() bool {
	if _, err := os.Stat(s.vectorsPath()); err != nil {
		return false
	}
	if _, err := os.Stat(s.metaPath()); err != nil {
		return false
	}
	return true
}

// Rebuild replaces the index wholesale from vectors and their metadata.
// Vectors are L2-normalized before writing.
func (s *Store) Rebuild(vectors [][]float32, metas []ChunkMeta) error {
	if len(vectors) == 0 {
		return domain.NewDomainError(domain.ErrCodeValidation, "cannot build an empty index")
	}
	if len(vectors) != len(metas) {
		return domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("vector/metadata count mismatch: %d vs %d", len(vectors), len(metas)))
	}
	dim := len(vectors[0])
	if dim == 0 {
		return domain.NewDomainError(domain.ErrCodeValidation, "vectors must have non-zero dimension")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return domain.NewDomainError(domain.ErrCodeValidation,
				fmt.Sprintf("vector %d has dimension %d, want %d", i, len(v), dim))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}

	tmpVectors := s.vectorsPath() + ".tmp"
	tmpMeta := s.metaPath() + ".tmp"

	if err := writeVectors(tmpVectors, vectors, dim); err != nil {
		os.Remove(tmpVectors)
		return err
	}
	if err := writeMetas(tmpMeta, metas); err != nil {
		os.Remove(tmpVectors)
		os.Remove(tmpMeta)
		return err
	}

	if err := os.Rename(tmpVectors, s.vectorsPath()); err != nil {
		os.Remove(tmpVectors)
		os.Remove(tmpMeta)
		return fmt.Errorf("failed to replace vector file: %w", err)
	}
	if err := os.Rename(tmpMeta, s.metaPath()); err != nil {
		os.Remove(tmpMeta)
		return fmt.Errorf("failed to replace metadata file: %w", err)
	}
	return nil
}

// Search returns up to k hits ordered by descending inner product against
// the normalized query vector. The query dimension must match the index.
func (s *Store) Search(query []float32, k int) ([]Hit, error) {
	if !s.Exists() {
		return nil, domain.ErrIndexNotFound
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	vectors, dim, err := readVectors(s.vectorsPath())
	if err != nil {
		return nil, err
	}
	if len(query) != dim {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has dimension %d, index has %d", len(query), dim),
			domain.ErrDimensionMismatch)
	}
	metas, err := readMetas(s.metaPath())
	if err != nil {
		return nil, err
	}
	if len(metas) != len(vectors) {
		return nil, domain.NewDomainError(domain.ErrCodeInternalError,
			fmt.Sprintf("index pair out of sync: %d vectors, %d metadata records", len(vectors), len(metas)))
	}

	q := normalize(query)

	hits := make([]Hit, 0, len(vectors))
	for i, v := range vectors {
		hits = append(hits, Hit{Score: dot(q, v), Meta: metas[i]})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Reset removes both index artifacts. Missing files are not an error.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range []string{s.vectorsPath(), s.metaPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// ListFiles aggregates the metadata records into one summary per file.
func (s *Store) ListFiles() ([]FileSummary, error) {
	if !s.Exists() {
		return []FileSummary{}, nil
	}
	metas, err := readMetas(s.metaPath())
	if err != nil {
		return nil, err
	}

	type agg struct {
		summary  FileSummary
		pagesSet map[int]struct{}
		total    *int
	}
	byPath := map[string]*agg{}
	order := []string{}
	for _, m := range metas {
		path := m.Path
		if path == "" {
			path = m.Doc
		}
		a, ok := byPath[path]
		if !ok {
			name := m.Doc
			if name == "" {
				name = filepath.Base(path)
			}
			a = &agg{
				summary:  FileSummary{Path: path, Name: name},
				pagesSet: map[int]struct{}{},
			}
			byPath[path] = a
			order = append(order, path)
		}
		a.summary.Chunks++
		if m.Page != nil {
			a.pagesSet[*m.Page] = struct{}{}
		}
		if m.TotalPages != nil && a.total == nil {
			a.total = m.TotalPages
		}
	}

	out := make([]FileSummary, 0, len(order))
	for _, path := range order {
		a := byPath[path]
		if a.total != nil {
			a.summary.Pages = a.total
		} else if len(a.pagesSet) > 0 {
			n := len(a.pagesSet)
			a.summary.Pages = &n
		}
		out = append(out, a.summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func writeVectors(path string, vectors [][]float32, dim int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create vector file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(fileMagic); err != nil {
		return err
	}
	header := []uint32{fileVersion, uint32(dim), uint32(len(vectors))}
	for _, h := range header {
		if err := binary.Write(w, binary.LittleEndian, h); err != nil {
			return err
		}
	}
	for _, v := range vectors {
		if err := binary.Write(w, binary.LittleEndian, normalize(v)); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func readVectors(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open vector file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(fileMagic))
	if _, err := readFull(r, magic); err != nil {
		return nil, 0, fmt.Errorf("failed to read vector file header: %w", err)
	}
	if string(magic) != fileMagic {
		return nil, 0, fmt.Errorf("not a vector index file: bad magic %q", magic)
	}
	var version, dim32, count uint32
	for _, dst := range []*uint32{&version, &dim32, &count} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, 0, fmt.Errorf("failed to read vector file header: %w", err)
		}
	}
	if version != fileVersion {
		return nil, 0, fmt.Errorf("unsupported vector file version %d", version)
	}

	dim := int(dim32)
	vectors := make([][]float32, count)
	for i := range vectors {
		v := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, 0, fmt.Errorf("failed to read vector %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, dim, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeMetas(path string, metas []ChunkMeta) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, m := range metas {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("failed to encode metadata record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func readMetas(path string) ([]ChunkMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer f.Close()

	var metas []ChunkMeta
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m ChunkMeta
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("failed to decode metadata record %d: %w", len(metas), err)
		}
		metas = append(metas, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}
	return metas, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum) + normEpsilon
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
