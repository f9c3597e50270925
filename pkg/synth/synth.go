// Package synth merges the successful answers of a fan-out into one ranked,
// deduplicated result.
package synth

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zen-systems/medorch/pkg/artifact"
)

// SimilarityThreshold is the shingle Jaccard similarity at or above which two
// answers are treated as the same answer.
const SimilarityThreshold = 0.85

const shingleSize = 3

// Input is one successful provider answer.
type Input struct {
	Provider string
	Artifact *artifact.Artifact
	Latency  time.Duration
}

// Provenance identifies the provider answer an entry came from.
type Provenance struct {
	Provider   string `json:"provider" yaml:"provider"`
	Model      string `json:"model" yaml:"model"`
	ArtifactID string `json:"artifact_id" yaml:"artifact_id"`
	Hash       string `json:"hash" yaml:"hash"`
}

// Entry is one surviving answer.
type Entry struct {
	Source     Provenance   `json:"source" yaml:"source"`
	Content    string       `json:"content" yaml:"content"`
	Confidence float64      `json:"confidence" yaml:"confidence"`
	Agreement  int          `json:"agreement" yaml:"agreement"`
	Duplicates []Provenance `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
}

// Result is the merged answer. Entries are ranked, best first.
type Result struct {
	RequestID string  `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	TaskTag   string  `json:"task_tag" yaml:"task_tag"`
	Requested int     `json:"requested" yaml:"requested"`
	Available int     `json:"available" yaml:"available"`
	Entries   []Entry `json:"entries" yaml:"entries"`
}

// Partial reports whether fewer providers answered than were requested.
func (r *Result) Partial() bool {
	return r.Available < r.Requested
}

type scored struct {
	in       Input
	rank     int
	score    float64
	shingles map[string]struct{}
}

// Merge deduplicates and ranks answers. priority lists provider IDs in router
// order and breaks confidence ties; providers missing from it rank last.
func Merge(inputs []Input, priority []string) *Result {
	rankOf := make(map[string]int, len(priority))
	for i, p := range priority {
		rankOf[p] = i
	}

	items := make([]scored, 0, len(inputs))
	for _, in := range inputs {
		if in.Artifact == nil {
			continue
		}
		rank, ok := rankOf[in.Provider]
		if !ok {
			rank = len(priority)
		}
		items = append(items, scored{
			in:       in,
			rank:     rank,
			score:    confidence(in.Artifact.Content, rank, len(priority)),
			shingles: shingles(in.Artifact.Content),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].rank < items[j].rank
	})

	res := &Result{Available: len(items), Requested: len(items)}
	var kept []scored
	for _, it := range items {
		merged := false
		for k := range kept {
			if jaccard(kept[k].shingles, it.shingles) >= SimilarityThreshold {
				res.Entries[k].Agreement++
				res.Entries[k].Duplicates = append(res.Entries[k].Duplicates, provenanceOf(it.in))
				merged = true
				break
			}
		}
		if merged {
			continue
		}
		kept = append(kept, it)
		res.Entries = append(res.Entries, Entry{
			Source:     provenanceOf(it.in),
			Content:    it.in.Artifact.Content,
			Confidence: it.score,
			Agreement:  1,
		})
	}
	return res
}

func provenanceOf(in Input) Provenance {
	return Provenance{
		Provider:   in.Provider,
		Model:      in.Artifact.Model,
		ArtifactID: in.Artifact.ID,
		Hash:       in.Artifact.Hash,
	}
}

// confidence combines provider priority (up to 0.5), length (up to 0.3) and
// structure (up to 0.2).
func confidence(content string, rank, total int) float64 {
	priorityWeight := 0.0
	if total > 0 && rank < total {
		priorityWeight = 0.5 * float64(total-rank) / float64(total)
	}

	words := len(strings.Fields(content))
	lengthWeight := 0.3 * float64(min(words, 300)) / 300

	structureWeight := 0.0
	lines := strings.Split(content, "\n")
	var heading, list bool
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			heading = true
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "), isNumbered(trimmed):
			list = true
		}
	}
	if heading {
		structureWeight += 0.08
	}
	if list {
		structureWeight += 0.07
	}
	if strings.Count(strings.TrimSpace(content), "\n\n") >= 2 {
		structureWeight += 0.05
	}

	return priorityWeight + lengthWeight + structureWeight
}

func isNumbered(line string) bool {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i+1 < len(line) && line[i] == '.' && line[i+1] == ' '
}

func normalizeWords(content string) []string {
	fields := strings.Fields(strings.ToLower(content))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?()[]{}\"'`*_#-")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func shingles(content string) map[string]struct{} {
	words := normalizeWords(content)
	set := make(map[string]struct{})
	if len(words) < shingleSize {
		if len(words) > 0 {
			set[strings.Join(words, " ")] = struct{}{}
		}
		return set
	}
	for i := 0; i+shingleSize <= len(words); i++ {
		set[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for s := range a {
		if _, ok := b[s]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Similarity returns the shingle Jaccard similarity of two texts.
func Similarity(a, b string) float64 {
	return jaccard(shingles(a), shingles(b))
}

// Markdown renders the merged answer with one section per surviving provider.
func (r *Result) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Multi-Provider Analysis\n\n")
	fmt.Fprintf(&sb, "*Generated from %d of %d requested providers*\n\n", r.Available, r.Requested)

	for _, e := range r.Entries {
		fmt.Fprintf(&sb, "## %s Analysis\n\n", displayName(e.Source.Provider))
		sb.WriteString(strings.TrimSpace(e.Content))
		sb.WriteString("\n\n")
		fmt.Fprintf(&sb, "*Confidence %.2f", e.Confidence)
		if e.Agreement > 1 {
			names := make([]string, 0, len(e.Duplicates))
			for _, d := range e.Duplicates {
				names = append(names, displayName(d.Provider))
			}
			fmt.Fprintf(&sb, ", agreed by %s", strings.Join(names, ", "))
		}
		sb.WriteString("*\n\n---\n\n")
	}
	return sb.String()
}

func displayName(provider string) string {
	if provider == "" {
		return provider
	}
	return strings.ToUpper(provider[:1]) + provider[1:]
}
