package usecase

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tenantiq/ragcore/internal/core/domain"
)

const contextDivider = "\n---\n"

// The generator's output contract accepts two inline marker syntaxes over the
// same numbering scheme: a bracketed number ("[2]") and a verbose form
// ("[Source 2]", case-insensitive). Both are normalized before validation.
var (
	verboseMarkerPattern = regexp.MustCompile(`(?i)\[source\s+(\d+)\]`)
	numericMarkerPattern = regexp.MustCompile(`\[(\d+)\]`)
)

type markerForm int

const (
	markerNumeric markerForm = iota
	markerVerbose
)

type citationMarker struct {
	form   markerForm
	number int
}

// BuildContext assigns stable per-query citation numbers to retrieved chunks.
// Numbers are 1-based, dense, and follow the input order; they are assigned
// once here and never renumbered within a request.
func BuildContext(chunks []domain.RetrievedChunk) domain.CitationContext {
	numberByID := make(map[string]int, len(chunks))
	for i, chunk := range chunks {
		numberByID[chunk.ID] = i + 1
	}
	return domain.CitationContext{
		Chunks:          chunks,
		NumberByChunkID: numberByID,
	}
}

// FormatForPrompt renders the numbered passages for the generation prompt:
// each chunk labeled "[n] (Source: title)" followed by its content, passages
// separated by a visible divider, in citation-number order.
func FormatForPrompt(cctx domain.CitationContext) string {
	parts := make([]string, 0, len(cctx.Chunks))
	for i, chunk := range cctx.Chunks {
		parts = append(parts, fmt.Sprintf("[%d] (Source: %s)\n%s", i+1, chunk.DocumentTitle, chunk.Content))
	}
	return strings.Join(parts, contextDivider)
}

// ParseResult is the outcome of mapping generated text back to the context.
type ParseResult struct {
	Citations        []domain.Citation
	UsedChunkIDs     []string
	InvalidCitations []int
}

// ParseCitations scans generated text for reference markers and resolves
// them against the citation context. Numbers outside [1, len(chunks)] are
// recorded as invalid and excluded; repeated numbers collapse to one
// citation. Output is sorted ascending by number. Numbering is scoped to one
// query's context, so a marker can never resolve to another query's chunk.
func ParseCitations(text string, cctx domain.CitationContext) ParseResult {
	markers := scanMarkers(text)

	seen := make(map[int]bool, len(markers))
	invalidSeen := make(map[int]bool)
	result := ParseResult{}

	for _, marker := range markers {
		if marker.number < 1 || marker.number > len(cctx.Chunks) {
			if !invalidSeen[marker.number] {
				invalidSeen[marker.number] = true
				result.InvalidCitations = append(result.InvalidCitations, marker.number)
			}
			continue
		}
		if seen[marker.number] {
			continue
		}
		seen[marker.number] = true

		chunk := cctx.Chunks[marker.number-1]
		result.Citations = append(result.Citations, domain.Citation{
			Number:             marker.number,
			DocumentID:         chunk.DocumentID,
			DocumentTitle:      chunk.DocumentTitle,
			ChunkContent:       chunk.Content,
			ChunkPositionIndex: chunk.PositionIndex,
			Confidence:         chunk.Confidence,
			Source:             chunk.DocumentSource,
		})
		result.UsedChunkIDs = append(result.UsedChunkIDs, chunk.ID)
	}

	sort.Slice(result.Citations, func(i, j int) bool {
		return result.Citations[i].Number < result.Citations[j].Number
	})
	sort.Ints(result.InvalidCitations)
	return result
}

// scanMarkers attempts the verbose pattern first, then the plain numeric
// pattern, unifying both into one normalized marker stream.
func scanMarkers(text string) []citationMarker {
	markers := make([]citationMarker, 0, 8)
	for _, match := range verboseMarkerPattern.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(match[1]); err == nil {
			markers = append(markers, citationMarker{form: markerVerbose, number: n})
		}
	}
	for _, match := range numericMarkerPattern.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(match[1]); err == nil {
			markers = append(markers, citationMarker{form: markerNumeric, number: n})
		}
	}
	return markers
}

// ValidationResult exposes citation anomalies as data, not errors; the
// caller decides whether to reject a response.
type ValidationResult struct {
	IsValid          bool
	HasCitations     bool
	InvalidCitations []int
	UnusedChunks     []string
}

// ValidateCitations reports invalid and unused citation numbers. IsValid is
// true iff no invalid numbers occur: unused chunks are not penalized, since
// a focused answer that ignores irrelevant retrieved passages is correct
// behavior.
func ValidateCitations(text string, cctx domain.CitationContext) ValidationResult {
	parsed := ParseCitations(text, cctx)

	used := make(map[string]bool, len(parsed.UsedChunkIDs))
	for _, id := range parsed.UsedChunkIDs {
		used[id] = true
	}

	var unused []string
	for _, chunk := range cctx.Chunks {
		if !used[chunk.ID] {
			unused = append(unused, chunk.ID)
		}
	}

	return ValidationResult{
		IsValid:          len(parsed.InvalidCitations) == 0,
		HasCitations:     len(parsed.Citations) > 0,
		InvalidCitations: parsed.InvalidCitations,
		UnusedChunks:     unused,
	}
}

// OverallConfidence is the arithmetic mean of the cited chunks' confidence,
// 0 for an empty citation list.
func OverallConfidence(citations []domain.Citation) float64 {
	if len(citations) == 0 {
		return 0
	}
	sum := 0.0
	for _, citation := range citations {
		sum += citation.Confidence
	}
	return sum / float64(len(citations))
}
