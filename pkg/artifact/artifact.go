package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/xid"
)

// Artifact is the immutable content one provider produced for one call.
type Artifact struct {
	ID        string            `json:"id" yaml:"id"`
	Content   string            `json:"content" yaml:"content"`
	Provider  string            `json:"provider" yaml:"provider"`
	Model     string            `json:"model" yaml:"model"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
	Hash      string            `json:"hash" yaml:"hash"`
}

// New creates a new Artifact with computed content hash.
func New(content, provider, model string) *Artifact {
	a := &Artifact{
		ID:        xid.New().String(),
		Content:   content,
		Provider:  provider,
		Model:     model,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().UTC(),
	}
	a.Hash = ContentHash(content)
	return a
}

// WithMetadata returns a copy of the artifact with one more metadata entry.
func (a *Artifact) WithMetadata(key, value string) *Artifact {
	clone := &Artifact{
		ID:        a.ID,
		Content:   a.Content,
		Provider:  a.Provider,
		Model:     a.Model,
		Metadata:  copyMetadata(a.Metadata),
		CreatedAt: a.CreatedAt,
		Hash:      a.Hash,
	}
	clone.Metadata[key] = value
	return clone
}

// ContentHash hashes whitespace- and case-normalized content, so two providers
// returning the same text with different formatting hash identically.
func ContentHash(content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

func copyMetadata(m map[string]string) map[string]string {
	newM := make(map[string]string, len(m))
	for k, v := range m {
		newM[k] = v
	}
	return newM
}
