package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/dativo-io/verity/internal/classifier"
	"github.com/dativo-io/verity/internal/cryptoutil"
	"github.com/dativo-io/verity/internal/tree"
)

const summaryUnsupported = "unsupported"

// payload is a call argument or response reduced to its canonical JSON form.
type payload struct {
	canonical []byte
	digest    string
	value     tree.Value
	supported bool
}

// canonicalize digests v over its RFC 8785 form. Values that cannot be
// marshaled are digested from their Go-syntax representation instead, so
// recording never fails.
func canonicalize(v any) payload {
	raw, err := json.Marshal(v)
	if err == nil {
		var canon []byte
		if canon, err = jcs.Transform(raw); err == nil {
			p := payload{canonical: canon, digest: cryptoutil.SHA256Hex(canon), supported: true}
			p.value = decodeTree(canon)
			return p
		}
	}
	fallback := []byte(fmt.Sprintf("%#v", v))
	return payload{canonical: fallback, digest: cryptoutil.SHA256Hex(fallback)}
}

func decodeTree(canon []byte) tree.Value {
	dec := json.NewDecoder(bytes.NewReader(canon))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return tree.Null()
	}
	v, err := tree.FromAny(generic)
	if err != nil {
		return tree.Null()
	}
	return v
}

// redact replaces the value of every map field whose name marks it as secret,
// at any depth.
func redact(v tree.Value) tree.Value {
	switch v.Kind() {
	case tree.KindMap:
		fields := make(map[string]tree.Value, v.Len())
		for _, k := range v.Keys() {
			child, _ := v.Get(k)
			if classifier.IsSecretFieldName(k) {
				fields[k] = tree.String(classifier.RedactionMarker)
				continue
			}
			fields[k] = redact(child)
		}
		return tree.Map(fields)
	case tree.KindList:
		items := v.Items()
		for i := range items {
			items[i] = redact(items[i])
		}
		return tree.List(items...)
	default:
		return v
	}
}

// summarize records shape only: JSON type, canonical size, and item count
// for lists and maps.
func summarize(p payload, status Status) ResponseSummary {
	s := ResponseSummary{SizeBytes: len(p.canonical), Status: status}
	if !p.supported {
		s.Type = summaryUnsupported
		return s
	}
	switch p.value.Kind() {
	case tree.KindMap:
		s.Type = "object"
		s.ItemCount = p.value.Len()
	case tree.KindList:
		s.Type = "array"
		s.ItemCount = p.value.Len()
	case tree.KindString:
		s.Type = "string"
	case tree.KindNumber:
		s.Type = "number"
	case tree.KindBool:
		s.Type = "boolean"
	default:
		s.Type = "null"
	}
	return s
}
