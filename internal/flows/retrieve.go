package flows

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/suPer8Hu/podflix/internal/graph"
)

type RetrieveOptions struct {
	// MaxChars is the largest transcript passed through untouched. Zero
	// disables narrowing.
	MaxChars     int
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

func (o RetrieveOptions) withDefaults() RetrieveOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1000
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = 0
	}
	if o.TopK <= 0 {
		o.TopK = 4
	}
	return o
}

func retrieveNode(opts RetrieveOptions) graph.NodeFunc {
	opts = opts.withDefaults()
	return func(ctx context.Context, s graph.State, emit graph.Emitter) (graph.Update, error) {
		if opts.MaxChars == 0 || len(s.Context) <= opts.MaxChars {
			return graph.Update{}, nil
		}
		narrowed, err := SelectChunks(s.Context, s.LastUserMessage(), opts)
		if err != nil {
			return graph.Update{}, err
		}
		return graph.Update{Context: &narrowed}, nil
	}
}

// SelectChunks splits text and keeps the TopK chunks sharing the most terms
// with question, in their original order.
func SelectChunks(text, question string, opts RetrieveOptions) (string, error) {
	opts = opts.withDefaults()
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(opts.ChunkSize),
		textsplitter.WithChunkOverlap(opts.ChunkOverlap),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return "", err
	}
	if len(chunks) <= opts.TopK {
		return strings.Join(chunks, "\n\n"), nil
	}

	terms := termSet(question)
	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, len(chunks))
	for i, c := range chunks {
		n := 0
		for t := range termSet(c) {
			if terms[t] {
				n++
			}
		}
		ranked[i] = scored{idx: i, score: n}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	keep := ranked[:opts.TopK]
	sort.Slice(keep, func(i, j int) bool { return keep[i].idx < keep[j].idx })

	out := make([]string, 0, len(keep))
	for _, k := range keep {
		out = append(out, chunks[k.idx])
	}
	return strings.Join(out, "\n\n"), nil
}

func termSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		// short words are mostly stop words
		if len(w) > 2 {
			set[w] = true
		}
	}
	return set
}
