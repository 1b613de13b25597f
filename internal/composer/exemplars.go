package composer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/resumechat/internal/tree"
)

// ExemplarPath is where a profile keeps its prepared interview answers.
const ExemplarPath = "skills.interview_responses"

const (
	exemplarLead    = "Below are some example questions and responses from the context:"
	refusalQuestion = "Could you write me a poem about cats?"
	refusalResponse = "I can only provide information about the resume owner's professional background, skills, and achievements."
)

// Exemplar is one prepared question and answer.
type Exemplar struct {
	Question string
	Response string
}

// Exemplars reads the interview responses stored in doc, in document order.
// The collection may be an object of entries or an array. Entries missing a
// question or a response are skipped.
func Exemplars(doc *tree.Map) []Exemplar {
	v, ok := tree.Lookup(doc, ExemplarPath)
	if !ok {
		return nil
	}

	var items []any
	switch t := v.(type) {
	case *tree.Map:
		items = t.Values()
	case []any:
		items = t
	default:
		return nil
	}

	var out []Exemplar
	for _, it := range items {
		m, ok := it.(*tree.Map)
		if !ok {
			continue
		}
		q, _ := m.Get("question")
		r, _ := m.Get("response")
		if !tree.Truthy(q) || !tree.Truthy(r) {
			continue
		}
		out = append(out, Exemplar{Question: text(q), Response: text(r)})
	}
	return out
}

// BuildExemplars renders the exemplar block for doc. It returns "" when the
// document has no interview responses at all; otherwise the block always ends
// with a refusal example for out-of-scope requests.
func BuildExemplars(doc *tree.Map) string {
	if !hasResponses(doc) {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(exemplarLead)
	sb.WriteString("\n\n")
	for _, ex := range Exemplars(doc) {
		writePair(&sb, ex.Question, ex.Response)
		sb.WriteString("\n")
	}
	writePair(&sb, refusalQuestion, refusalResponse)
	return strings.TrimSpace(sb.String())
}

func writePair(sb *strings.Builder, q, r string) {
	sb.WriteString(`- User: "` + q + "\"\n")
	sb.WriteString(`- Assistant: "` + r + "\"\n")
}

// hasResponses reports whether the interview collection has any entries,
// valid or not.
func hasResponses(doc *tree.Map) bool {
	v, ok := tree.Lookup(doc, ExemplarPath)
	if !ok || !tree.Truthy(v) {
		return false
	}
	switch t := v.(type) {
	case *tree.Map:
		return t.Len() > 0
	case []any:
		return len(t) > 0
	case string:
		return true
	}
	return false
}

// text renders a question or response. Strings are used as they are; any
// other value is written as compact JSON.
func text(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
