package sgcl

import (
	"encoding/json"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var w WordMap
	serializer.RegisterTypedDeserializer(w.SerializerType(), DeserializeWordMap)
}

// Sentinel tokens present in every WordMap.
const (
	UnkToken   = "<unk>"
	StartToken = "<start>"
	EndToken   = "<end>"
	PadToken   = "<pad>"
)

// A WordMap maps caption tokens to integer ids.
//
// The padding token always has id 0; the remaining words
// occupy ids 1 through N, followed by the unknown, start,
// and end tokens.
// This is the layout produced by the caption preprocessing
// pipeline, so its JSON word maps load directly.
type WordMap struct {
	ids map[string]int
}

// NewWordMap creates a WordMap for the given words.
// The words should not include the sentinel tokens.
func NewWordMap(words []string) *WordMap {
	ids := map[string]int{PadToken: 0}
	for i, w := range words {
		ids[w] = i + 1
	}
	for _, w := range []string{UnkToken, StartToken, EndToken} {
		ids[w] = len(ids)
	}
	return &WordMap{ids: ids}
}

// DeserializeWordMap deserializes a WordMap.
func DeserializeWordMap(d []byte) (*WordMap, error) {
	var ids map[string]int
	if err := json.Unmarshal(d, &ids); err != nil {
		return nil, essentials.AddCtx("deserialize WordMap", err)
	}
	return &WordMap{ids: ids}, nil
}

// Len returns the vocabulary size, including sentinels.
func (w *WordMap) Len() int {
	return len(w.ids)
}

// ID returns the id for a token, falling back to the
// unknown token's id.
func (w *WordMap) ID(token string) int {
	if id, ok := w.ids[token]; ok {
		return id
	}
	return w.ids[UnkToken]
}

// Token returns the token for an id, or the unknown token
// if the id is out of range.
func (w *WordMap) Token(id int) string {
	for tok, i := range w.ids {
		if i == id {
			return tok
		}
	}
	return UnkToken
}

// Start returns the start token's id.
func (w *WordMap) Start() int {
	return w.ids[StartToken]
}

// End returns the end token's id.
func (w *WordMap) End() int {
	return w.ids[EndToken]
}

// Pad returns the padding token's id.
func (w *WordMap) Pad() int {
	return w.ids[PadToken]
}

// Encode encodes a tokenized caption as start/tokens/end,
// padded out to maxLen tokens.
// It returns the encoded ids and the caption length,
// which counts the start and end tokens but not padding.
func (w *WordMap) Encode(tokens []string, maxLen int) ([]int, int) {
	length := len(tokens) + 2
	ids := make([]int, 0, maxLen+2)
	ids = append(ids, w.Start())
	for _, tok := range tokens {
		ids = append(ids, w.ID(tok))
	}
	ids = append(ids, w.End())
	for len(ids) < maxLen+2 {
		ids = append(ids, w.Pad())
	}
	return ids, length
}

// Decode maps ids back to tokens, stopping at the end token
// and skipping the start and padding tokens.
func (w *WordMap) Decode(ids []int) []string {
	var tokens []string
	for _, id := range ids {
		switch id {
		case w.Start(), w.Pad():
		case w.End():
			return tokens
		default:
			tokens = append(tokens, w.Token(id))
		}
	}
	return tokens
}

// SerializerType returns the unique ID used to serialize
// a WordMap with the serializer package.
func (w *WordMap) SerializerType() string {
	return "github.com/aragakiyuiii/SGCL.WordMap"
}

// Serialize serializes the WordMap.
func (w *WordMap) Serialize() ([]byte, error) {
	return json.Marshal(w.ids)
}
