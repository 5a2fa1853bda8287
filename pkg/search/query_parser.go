package search

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// ParsedQuery represents a parsed search query with filters
type ParsedQuery struct {
	// Free-text terms every hit must contain, or any of them when MatchAny is set
	Terms []string

	// Terms no hit may contain
	Excluded []string

	MatchAny bool

	// Class restricts hits to one entity class
	Class string

	// Fields holds field:value filters matched against entity fields
	Fields map[string]string

	// Original query string
	Raw string
}

// QueryParser parses the search query syntax
type QueryParser struct {
	filterPattern *regexp.Regexp
}

// NewQueryParser creates a new query parser
func NewQueryParser() *QueryParser {
	// key:value or key:"quoted value"
	return &QueryParser{
		filterPattern: regexp.MustCompile(`([A-Za-z_][\w-]*):("([^"]+)"|(\S+))`),
	}
}

// Parse parses a search query string into a ParsedQuery
func (p *QueryParser) Parse(queryStr string) (*ParsedQuery, error) {
	q := &ParsedQuery{
		Terms:    make([]string, 0),
		Excluded: make([]string, 0),
		Fields:   make(map[string]string),
		Raw:      queryStr,
	}

	for _, match := range p.filterPattern.FindAllStringSubmatch(queryStr, -1) {
		key := strings.ToLower(match[1])
		value := match[3]
		if value == "" {
			value = match[4]
		}

		if key == "class" {
			if q.Class != "" && q.Class != value {
				return nil, fmt.Errorf("conflicting class filters: %s and %s", q.Class, value)
			}
			q.Class = value
			continue
		}
		q.Fields[key] = value
	}

	exclude := false
	for _, word := range strings.Fields(p.filterPattern.ReplaceAllString(queryStr, "")) {
		switch strings.ToUpper(word) {
		case "AND":
			continue
		case "OR":
			q.MatchAny = true
			continue
		case "NOT":
			exclude = true
			continue
		}

		if strings.HasPrefix(word, "-") && len(word) > 1 {
			q.Excluded = append(q.Excluded, word[1:])
		} else if exclude {
			q.Excluded = append(q.Excluded, word)
		} else {
			q.Terms = append(q.Terms, word)
		}
		exclude = false
	}

	return q, nil
}

// ToTsQuery converts the parsed terms to PostgreSQL tsquery format
func (q *ParsedQuery) ToTsQuery() string {
	op := " & "
	if q.MatchAny {
		op = " | "
	}

	included := make([]string, 0, len(q.Terms))
	for _, term := range q.Terms {
		if sanitized := sanitizeTsQueryTerm(term); sanitized != "" {
			included = append(included, sanitized)
		}
	}

	result := strings.Join(included, op)
	if len(included) > 1 && len(q.Excluded) > 0 {
		result = "(" + result + ")"
	}
	for _, term := range q.Excluded {
		sanitized := sanitizeTsQueryTerm(term)
		if sanitized == "" {
			continue
		}
		if result != "" {
			result += " & "
		}
		result += "!" + sanitized
	}
	return result
}

// sanitizeTsQueryTerm keeps letters and digits and adds a prefix match so
// "lamp" also matches "lamps"
func sanitizeTsQueryTerm(term string) string {
	term = strings.Map(func(r rune) rune {
		if r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127 {
			return r
		}
		return -1
	}, term)
	if term == "" {
		return ""
	}
	return strings.ToLower(term) + ":*"
}

// ToBleveQuery converts the parsed query to a bleve query over indexed documents
func (q *ParsedQuery) ToBleveQuery() query.Query {
	var must []query.Query

	if q.Class != "" {
		classQuery := bleve.NewTermQuery(q.Class)
		classQuery.SetField("class")
		must = append(must, classQuery)
	}

	for _, key := range q.fieldKeys() {
		fieldQuery := bleve.NewMatchQuery(q.Fields[key])
		fieldQuery.SetField("fields." + key)
		must = append(must, fieldQuery)
	}

	if len(q.Terms) > 0 {
		terms := make([]query.Query, 0, len(q.Terms))
		for _, term := range q.Terms {
			terms = append(terms, contentQuery(term))
		}
		if q.MatchAny {
			must = append(must, bleve.NewDisjunctionQuery(terms...))
		} else {
			must = append(must, terms...)
		}
	}

	var root query.Query = bleve.NewMatchAllQuery()
	if len(must) > 0 {
		root = bleve.NewConjunctionQuery(must...)
	}
	if len(q.Excluded) == 0 {
		return root
	}

	excluded := make([]query.Query, 0, len(q.Excluded))
	for _, term := range q.Excluded {
		excluded = append(excluded, contentQuery(term))
	}
	return query.NewBooleanQuery([]query.Query{root}, nil, excluded)
}

func contentQuery(term string) query.Query {
	match := bleve.NewMatchQuery(term)
	match.SetField("content")
	return match
}

func (q *ParsedQuery) fieldKeys() []string {
	keys := make([]string, 0, len(q.Fields))
	for key := range q.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// HasFilters returns true if the query has any filters
func (q *ParsedQuery) HasFilters() bool {
	return q.Class != "" || len(q.Fields) > 0
}

// String returns a human-readable representation of the query
func (q *ParsedQuery) String() string {
	parts := make([]string, 0)

	if len(q.Terms) > 0 {
		parts = append(parts, fmt.Sprintf("terms:%v", q.Terms))
	}
	if q.MatchAny {
		parts = append(parts, "match:any")
	}
	if len(q.Excluded) > 0 {
		parts = append(parts, fmt.Sprintf("not:%v", q.Excluded))
	}
	if q.Class != "" {
		parts = append(parts, fmt.Sprintf("class:%s", q.Class))
	}
	for _, key := range q.fieldKeys() {
		parts = append(parts, fmt.Sprintf("%s:%s", key, q.Fields[key]))
	}

	return strings.Join(parts, ", ")
}

// Examples:
//
//	"lamp"                     content contains "lamp"
//	"lamp class:product"       only product entities
//	"lamp OR desk"             either term
//	"lamp NOT broken"          "lamp" but not "broken"
//	sku:"SKU-1" class:product  field filter
