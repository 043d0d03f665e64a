// Package corpus loads the site's document corpus and keeps a durable
// msgpack snapshot of it so restarts do not depend on the source.
package corpus

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ugorji/go/codec"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

var msgpackHandle = &codec.MsgpackHandle{}

// EncodeMsgpack serializes v with the shared msgpack handle.
func EncodeMsgpack(v any) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, msgpackHandle).Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return out, nil
}

// DecodeMsgpack deserializes data into dst.
func DecodeMsgpack(data []byte, dst any) error {
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(dst); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}

// Parse decodes the raw JSON corpus: an array of documents.
func Parse(raw []byte) ([]proto.Document, error) {
	var docs []proto.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("parsing corpus: %w", err)
	}
	if docs == nil {
		docs = []proto.Document{}
	}
	return docs, nil
}

// Sections returns the distinct non-empty section names in sorted order.
func Sections(docs []proto.Document) []string {
	seen := make(map[string]struct{})
	for _, d := range docs {
		if d.Section != "" {
			seen[d.Section] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// BySection returns the documents belonging to section, in corpus order.
func BySection(docs []proto.Document, section string) []proto.Document {
	var out []proto.Document
	for _, d := range docs {
		if d.Section == section {
			out = append(out, d)
		}
	}
	return out
}

// ByURL indexes docs by URL. Later duplicates win.
func ByURL(docs []proto.Document) map[string]proto.Document {
	m := make(map[string]proto.Document, len(docs))
	for _, d := range docs {
		m[d.URL] = d
	}
	return m
}
