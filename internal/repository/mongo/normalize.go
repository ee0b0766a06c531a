package mongo

import (
	"time"

	"github.com/vedran77/chatsync/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// normalize turns driver values into plain Go values so documents read back
// from mongo look like the ones the other stores return.
func normalize(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case bson.M:
		out := make(map[string]any, len(t))
		for k, nv := range t {
			out[k] = normalize(nv)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, nv := range t {
			out[k] = normalize(nv)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, nv := range t {
			out[i] = normalize(nv)
		}
		return out
	case time.Time:
		return t.UTC()
	}
	return v
}

func toDocument(m bson.M) domain.Document {
	doc := make(domain.Document, len(m))
	for k, v := range m {
		doc[k] = normalize(v)
	}
	return doc
}
