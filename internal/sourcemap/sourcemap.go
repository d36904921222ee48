// Package sourcemap builds the output source map by merging per-module
// mappings and then collapsing through each module's pre-existing
// SourceMapChain, so original-source positions survive upstream
// transforms (spec.md §4.H).
package sourcemap

import "strings"

// Mapping is one VLQ-encodable entry: a generated position and the
// original position it traces back to.
type Mapping struct {
	GeneratedLine   int32
	GeneratedColumn int32
	SourceIndex     int32
	OriginalLine    int32
	OriginalColumn  int32
}

type SourceMap struct {
	Sources        []string
	SourcesContent []string
	Mappings       []Mapping
	Names          []string
}

// Append adds another module's mappings, offset by the line/column at
// which that module's code begins in the concatenated bundle. The module
// always gets a new source index, the next free slot in Sources.
func (sm *SourceMap) Append(source string, content string, mappings []Mapping, lineOffset int32, columnOffsetOnFirstLine int32) {
	sourceIndex := int32(len(sm.Sources))
	sm.Sources = append(sm.Sources, source)
	sm.SourcesContent = append(sm.SourcesContent, content)

	for _, m := range mappings {
		gl := m.GeneratedLine + lineOffset
		gc := m.GeneratedColumn
		if m.GeneratedLine == 0 {
			gc += columnOffsetOnFirstLine
		}
		sm.Mappings = append(sm.Mappings, Mapping{
			GeneratedLine:   gl,
			GeneratedColumn: gc,
			SourceIndex:     sourceIndex,
			OriginalLine:    m.OriginalLine,
			OriginalColumn:  m.OriginalColumn,
		})
	}
}

// CollapseChain rewrites mappings that point into an intermediate
// (already-transformed) source so that they point through a chain of
// upstream source maps back to the original source, one link at a time.
// Each entry in chain is itself a SourceMap whose "Sources"/mappings
// describe one transform step; chain[0] is the transform closest to the
// final output.
func CollapseChain(mappings []Mapping, chain []*SourceMap) []Mapping {
	if len(chain) == 0 {
		return mappings
	}
	out := make([]Mapping, len(mappings))
	copy(out, mappings)
	for _, link := range chain {
		for i, m := range out {
			if found := link.find(m.OriginalLine, m.OriginalColumn); found != nil {
				out[i].OriginalLine = found.OriginalLine
				out[i].OriginalColumn = found.OriginalColumn
				if int(found.SourceIndex) < len(link.Sources) {
					out[i].SourceIndex = found.SourceIndex
				}
			}
		}
	}
	return out
}

// find does a linear scan for the nearest mapping at or before (line,col).
// Chains are short in practice (one or two upstream transforms) so a
// binary search isn't worth the added bookkeeping here.
func (sm *SourceMap) find(line, col int32) *Mapping {
	var best *Mapping
	for i := range sm.Mappings {
		m := &sm.Mappings[i]
		if m.GeneratedLine > line || (m.GeneratedLine == line && m.GeneratedColumn > col) {
			continue
		}
		if best == nil || m.GeneratedLine > best.GeneratedLine ||
			(m.GeneratedLine == best.GeneratedLine && m.GeneratedColumn > best.GeneratedColumn) {
			best = m
		}
	}
	return best
}

const vlqBase = 32
const vlqBaseShift = 5
const vlqBaseMask = vlqBase - 1
const vlqContinuationBit = vlqBase

var vlqChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// EncodeVLQ appends the Base64 VLQ encoding of value to sb, as used by the
// "mappings" field of a source map.
func EncodeVLQ(sb *strings.Builder, value int32) {
	vlq := uint32(value) << 1
	if value < 0 {
		vlq = (uint32(-value) << 1) | 1
	}
	for {
		digit := vlq & vlqBaseMask
		vlq >>= vlqBaseShift
		if vlq != 0 {
			digit |= vlqContinuationBit
		}
		sb.WriteByte(vlqChars[digit])
		if vlq == 0 {
			break
		}
	}
}

// EncodeMappings renders the full "mappings" field: semicolon-separated
// generated lines, comma-separated segments within a line, each segment a
// VLQ-encoded (generatedColumnDelta, sourceIndexDelta, originalLineDelta,
// originalColumnDelta) tuple relative to the previous segment.
func EncodeMappings(mappings []Mapping) string {
	var sb strings.Builder
	var prevGeneratedLine, prevGeneratedColumn, prevSourceIndex, prevOriginalLine, prevOriginalColumn int32
	currentLine := int32(0)

	for i, m := range mappings {
		for currentLine < m.GeneratedLine {
			sb.WriteByte(';')
			currentLine++
			prevGeneratedColumn = 0
		}
		if i > 0 && mappings[i-1].GeneratedLine == m.GeneratedLine {
			sb.WriteByte(',')
		}
		EncodeVLQ(&sb, m.GeneratedColumn-prevGeneratedColumn)
		EncodeVLQ(&sb, m.SourceIndex-prevSourceIndex)
		EncodeVLQ(&sb, m.OriginalLine-prevOriginalLine)
		EncodeVLQ(&sb, m.OriginalColumn-prevOriginalColumn)
		prevGeneratedColumn = m.GeneratedColumn
		prevSourceIndex = m.SourceIndex
		prevOriginalLine = m.OriginalLine
		prevOriginalColumn = m.OriginalColumn
		prevGeneratedLine = m.GeneratedLine
	}
	_ = prevGeneratedLine
	return sb.String()
}
