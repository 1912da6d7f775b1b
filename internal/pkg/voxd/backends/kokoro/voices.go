package kokoro

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const embeddingDim = 256

// voiceStore indexes the voices directory at load time and reads style
// embeddings lazily on first request. Entries are cached for the process
// lifetime and never evicted.
type voiceStore struct {
	dir     string
	catalog []string
	cache   map[string][]float32
}

func newVoiceStore(dir string) (*voiceStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read voices directory: %w", err)
	}

	var catalog []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".bin") {
			continue
		}
		catalog = append(catalog, strings.TrimSuffix(entry.Name(), ".bin"))
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("no voice embeddings in %s", dir)
	}
	sort.Strings(catalog)

	return &voiceStore{
		dir:     dir,
		catalog: catalog,
		cache:   make(map[string][]float32),
	}, nil
}

// embedding returns the style vector for name, loading and caching it on
// first use. Callers must hold the engine gate while populating.
func (s *voiceStore) embedding(name string) ([]float32, error) {
	if emb, ok := s.cache[name]; ok {
		return emb, nil
	}

	start := time.Now()
	emb, err := readEmbedding(filepath.Join(s.dir, name+".bin"))
	if err != nil {
		return nil, err
	}
	s.cache[name] = emb
	log.Debug().Str("voice", name).Dur("elapsed", time.Since(start)).Msg("Voice embedding loaded")
	return emb, nil
}

// readEmbedding reads a raw little-endian float32 file and returns the first
// embeddingDim values. Files carrying per-token style rows (N x 256) yield
// their first row.
func readEmbedding(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < embeddingDim*4 {
		return nil, fmt.Errorf("embedding %s too short: %d bytes", path, len(data))
	}

	emb := make([]float32, embeddingDim)
	for i := range emb {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		emb[i] = math.Float32frombits(bits)
	}
	return emb, nil
}
