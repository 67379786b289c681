package embed

import (
	"encoding/binary"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/pcavallo/atomforge/fsio"
)

// cache stores one little-endian float32 vector file per content key.
// Load failures are treated as misses; save failures are logged and
// otherwise ignored, since the cache is purely an optimization.
type cache struct {
	dir string
}

func (c *cache) path(key string) string {
	return filepath.Join(c.dir, key+".vec")
}

func (c *cache) load(key string) ([]float32, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil || len(data)%4 != 0 || len(data) == 0 {
		return nil, false
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, true
}

func (c *cache) save(key string, vec []float32) {
	data := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	if err := fsio.WriteFileAtomic(c.path(key), data); err != nil {
		slog.Warn("embed: cache save failed", "key", key, "error", err)
	}
}
