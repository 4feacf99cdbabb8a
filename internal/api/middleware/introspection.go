package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// maxQueryBodyBytes bounds how much of a request body is inspected for a
// GraphQL query.
const maxQueryBodyBytes = 1 << 20

var introspectionFields = map[string]bool{
	"__schema":   true,
	"__type":     true,
	"__typename": true,
}

type graphQLRequest struct {
	Query string `json:"query"`
}

// IsIntrospectionRequest reports whether r carries a GraphQL document whose
// operations are queries selecting only introspection fields. The request body
// is restored for the next handler.
func IsIntrospectionRequest(r *http.Request) bool {
	query := graphQLQuery(r)
	if query == "" {
		return false
	}
	return IsIntrospectionQuery(query)
}

func graphQLQuery(r *http.Request) string {
	switch r.Method {
	case http.MethodGet:
		return r.URL.Query().Get("query")
	case http.MethodPost:
		if r.Body == nil || !strings.Contains(r.Header.Get("Content-Type"), "json") {
			return ""
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxQueryBodyBytes+1))
		// The unread tail stays on the original body.
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), r.Body), r.Body}
		if err != nil || len(body) > maxQueryBodyBytes {
			return ""
		}
		var req graphQLRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return ""
		}
		return req.Query
	}
	return ""
}

// IsIntrospectionQuery reports whether every operation in query is a query
// whose root selections are __schema, __type or __typename, including those
// reached through fragments.
func IsIntrospectionQuery(query string) bool {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil || doc == nil || len(doc.Operations) == 0 {
		return false
	}
	for _, op := range doc.Operations {
		if op.Operation != ast.Query {
			return false
		}
		if !introspectionOnly(op.SelectionSet, doc.Fragments, map[string]bool{}) {
			return false
		}
	}
	return true
}

func introspectionOnly(set ast.SelectionSet, fragments ast.FragmentDefinitionList, seen map[string]bool) bool {
	if len(set) == 0 {
		return false
	}
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if !introspectionFields[s.Name] {
				return false
			}
		case *ast.InlineFragment:
			if !introspectionOnly(s.SelectionSet, fragments, seen) {
				return false
			}
		case *ast.FragmentSpread:
			if seen[s.Name] {
				return false
			}
			def := fragments.ForName(s.Name)
			if def == nil {
				return false
			}
			seen[s.Name] = true
			ok := introspectionOnly(def.SelectionSet, fragments, seen)
			delete(seen, s.Name)
			if !ok {
				return false
			}
		default:
			return false
		}
	}
	return true
}
