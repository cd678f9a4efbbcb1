// Package chunking implements the Chunker and Formatter pure functions
// (spec §3.C): splitting a source row's payload text into an ordered list
// of chunks, then rendering each chunk plus row context into the string
// actually sent to an embedding provider.
//
// Chunker and Formatter are kept as pure functions of (config, row, text)
// rather than stateful objects, the way rag-loader's processor.Chunker
// implementations are pure functions of a Document — but the concrete
// strategies below are the specification's, not the teacher's.
package chunking

import (
	"fmt"
	"strings"

	"github.com/vectorpipe/embedworker/internal/catalog"
	"github.com/vectorpipe/embedworker/internal/errs"
)

// Chunk is one ordered piece of a row's payload text, numbered from 0
// (spec §9 open question: chunk_seq starts at 0).
type Chunk struct {
	Seq  int
	Text string
}

// Chunker splits payload text into an ordered list of chunks.
type Chunker func(cfg catalog.ChunkingConfig, text string) ([]Chunk, error)

// Resolve returns the Chunker named by cfg.Implementation.
func Resolve(cfg catalog.ChunkingConfig) (Chunker, error) {
	switch cfg.Implementation {
	case "", "none":
		return noneChunker, nil
	case "character_text_splitter":
		return characterTextSplitter, nil
	case "recursive_character_text_splitter":
		return recursiveCharacterTextSplitter, nil
	default:
		return nil, errs.New(errs.KindConfig, errs.StepChunking,
			fmt.Errorf("unknown chunking implementation %q", cfg.Implementation))
	}
}

// noneChunker treats the whole payload as a single chunk.
func noneChunker(_ catalog.ChunkingConfig, text string) ([]Chunk, error) {
	if text == "" {
		return nil, nil
	}
	return []Chunk{{Seq: 0, Text: text}}, nil
}

// characterTextSplitter splits on a single separator, packing consecutive
// pieces into windows of at most ChunkSize characters with ChunkOverlap
// characters of overlap between consecutive chunks, mirroring
// LangChain's CharacterTextSplitter semantics named in spec §3.C.
func characterTextSplitter(cfg catalog.ChunkingConfig, text string) ([]Chunk, error) {
	sep := cfg.Separator
	if sep == "" {
		sep = "\n\n"
	}
	size, overlap, err := normalizeSizes(cfg)
	if err != nil {
		return nil, err
	}

	var pieces []string
	if sep == "" {
		pieces = []string{text}
	} else {
		pieces = strings.Split(text, sep)
	}
	return packPieces(pieces, sep, size, overlap), nil
}

// recursiveCharacterTextSplitter tries each separator in order, recursing
// into any piece still over ChunkSize with the next separator, falling
// back to hard character slicing once separators are exhausted.
func recursiveCharacterTextSplitter(cfg catalog.ChunkingConfig, text string) ([]Chunk, error) {
	size, overlap, err := normalizeSizes(cfg)
	if err != nil {
		return nil, err
	}
	seps := cfg.Separators
	if len(seps) == 0 {
		seps = []string{"\n\n", "\n", " ", ""}
	}

	pieces := splitRecursive(text, seps, size)
	return packPieces(pieces, "", size, overlap), nil
}

func splitRecursive(text string, seps []string, size int) []string {
	if len(text) <= size || len(seps) == 0 {
		return hardSlice(text, size)
	}
	sep := seps[0]
	rest := seps[1:]

	var parts []string
	if sep == "" {
		parts = hardSlice(text, size)
	} else {
		parts = strings.Split(text, sep)
	}

	var out []string
	for _, p := range parts {
		if len(p) > size {
			out = append(out, splitRecursive(p, rest, size)...)
		} else if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hardSlice(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	var out []string
	for i := 0; i < len(text); i += size {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		out = append(out, text[i:end])
	}
	return out
}

// packPieces greedily packs pieces (rejoined by joiner) into windows of at
// most size characters, carrying overlap characters from the tail of one
// chunk into the head of the next.
func packPieces(pieces []string, joiner string, size, overlap int) []Chunk {
	var chunks []Chunk
	var cur strings.Builder

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{Seq: len(chunks), Text: cur.String()})
	}

	for _, p := range pieces {
		candidate := p
		if cur.Len() > 0 {
			candidate = joiner + p
		}
		if cur.Len() > 0 && cur.Len()+len(candidate) > size {
			flush()
			tail := tailOverlap(cur.String(), overlap)
			cur.Reset()
			cur.WriteString(tail)
			if cur.Len() > 0 {
				cur.WriteString(joiner)
			}
			cur.WriteString(p)
		} else {
			cur.WriteString(candidate)
		}
	}
	flush()
	return chunks
}

func tailOverlap(s string, overlap int) string {
	if overlap <= 0 || overlap >= len(s) {
		if overlap >= len(s) {
			return s
		}
		return ""
	}
	return s[len(s)-overlap:]
}

func normalizeSizes(cfg catalog.ChunkingConfig) (size, overlap int, err error) {
	size = cfg.ChunkSize
	if size <= 0 {
		size = 1000
	}
	overlap = cfg.ChunkOverlap
	if overlap < 0 {
		return 0, 0, errs.New(errs.KindConfig, errs.StepChunking, fmt.Errorf("chunk_overlap must be >= 0"))
	}
	if overlap >= size {
		return 0, 0, errs.New(errs.KindConfig, errs.StepChunking, fmt.Errorf("chunk_overlap must be smaller than chunk_size"))
	}
	return size, overlap, nil
}
