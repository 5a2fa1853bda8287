package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/platinummonkey/reindexer/pkg/entity"
)

// Document is the index representation of one entity
type Document struct {
	ID       string                 `json:"id"`
	Class    string                 `json:"class"`
	EntityID string                 `json:"entity_id"`
	Content  string                 `json:"content"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// DocumentID is the index key of an entity. Writing the same key twice
// replaces the previous document.
func DocumentID(entityClass, entityID string) string {
	return entityClass + ":" + entityID
}

// NewDocument builds the document for e. Content joins the non-nil field
// values in key order so repeated writes of an entity are identical.
func NewDocument(entityClass string, e entity.Entity) Document {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		if value := e.Fields[key]; value != nil {
			parts = append(parts, fmt.Sprint(value))
		}
	}

	return Document{
		ID:       DocumentID(entityClass, e.ID),
		Class:    entityClass,
		EntityID: e.ID,
		Content:  strings.Join(parts, " "),
		Fields:   e.Fields,
	}
}

// newDocuments converts a batch, keeping the last occurrence of a repeated id
func newDocuments(entityClass string, batch []entity.Entity) []Document {
	docs := make([]Document, 0, len(batch))
	position := make(map[string]int, len(batch))
	for _, e := range batch {
		doc := NewDocument(entityClass, e)
		if i, seen := position[doc.ID]; seen {
			docs[i] = doc
			continue
		}
		position[doc.ID] = len(docs)
		docs = append(docs, doc)
	}
	return docs
}
