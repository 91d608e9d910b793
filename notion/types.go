// Package notion is a small client for the Notion database REST API:
// querying collections and retrieving, creating, and updating pages.
package notion

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Page is a single document in a database. Raw holds the exact JSON the
// API returned so callers can annotate it without losing fields the typed
// model does not cover.
type Page struct {
	Object         string              `json:"object,omitempty"`
	ID             string              `json:"id"`
	CreatedTime    string              `json:"created_time,omitempty"`
	LastEditedTime string              `json:"last_edited_time,omitempty"`
	URL            string              `json:"url,omitempty"`
	Properties     map[string]Property `json:"properties"`

	Raw json.RawMessage `json:"-"`
}

// Property is a typed property value. Only the field matching Type is set
// on responses; requests set exactly one value field.
type Property struct {
	ID       string      `json:"id,omitempty"`
	Type     string      `json:"type,omitempty"`
	Title    []RichText  `json:"title,omitempty"`
	RichText []RichText  `json:"rich_text,omitempty"`
	Select   *Option     `json:"select,omitempty"`
	Status   *Option     `json:"status,omitempty"`
	Checkbox *bool       `json:"checkbox,omitempty"`
	Relation []Reference `json:"relation,omitempty"`
	Date     *Date       `json:"date,omitempty"`
	Number   *float64    `json:"number,omitempty"`
}

// RichText is one run of text in a title or rich_text property.
type RichText struct {
	Type      string       `json:"type,omitempty"`
	Text      *TextContent `json:"text,omitempty"`
	PlainText string       `json:"plain_text,omitempty"`
}

type TextContent struct {
	Content string `json:"content"`
}

// Option is a select or status option.
type Option struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Reference points at another page by ID.
type Reference struct {
	ID string `json:"id"`
}

type Date struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

// Text returns the concatenated plain text of a title or rich_text value.
func (p Property) Text() string {
	runs := p.Title
	if len(runs) == 0 {
		runs = p.RichText
	}
	var b strings.Builder
	for _, r := range runs {
		switch {
		case r.PlainText != "":
			b.WriteString(r.PlainText)
		case r.Text != nil:
			b.WriteString(r.Text.Content)
		}
	}
	return b.String()
}

// OptionName returns the select or status name, or "" when unset.
func (p Property) OptionName() string {
	if p.Select != nil {
		return p.Select.Name
	}
	if p.Status != nil {
		return p.Status.Name
	}
	return ""
}

// FirstRelation returns the first related page ID, or "" when the relation
// is empty.
func (p Property) FirstRelation() string {
	if len(p.Relation) == 0 {
		return ""
	}
	return p.Relation[0].ID
}

// Checked reports whether a checkbox property is set to true.
func (p Property) Checked() bool {
	return p.Checkbox != nil && *p.Checkbox
}

// DateStart returns the start of a date property, or "".
func (p Property) DateStart() string {
	if p.Date == nil {
		return ""
	}
	return p.Date.Start
}

// Property value constructors for create and update requests.

func TitleValue(s string) Property {
	return Property{Title: []RichText{{Text: &TextContent{Content: s}}}}
}

func TextValue(s string) Property {
	return Property{RichText: []RichText{{Text: &TextContent{Content: s}}}}
}

func SelectValue(name string) Property {
	return Property{Select: &Option{Name: name}}
}

func CheckboxValue(v bool) Property {
	return Property{Checkbox: &v}
}

func RelationValue(ids ...string) Property {
	refs := make([]Reference, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, Reference{ID: id})
	}
	return Property{Relation: refs}
}

func DateValue(start string) Property {
	return Property{Date: &Date{Start: start}}
}

// Sort is one entry of a query's sorts list.
type Sort struct {
	Property  string `json:"property,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// Query is the body of a database query. Filter is forwarded verbatim.
type Query struct {
	Filter      json.RawMessage `json:"filter,omitempty"`
	Sorts       []Sort          `json:"sorts,omitempty"`
	PageSize    int             `json:"page_size,omitempty"`
	StartCursor string          `json:"start_cursor,omitempty"`
}

// QueryResult is one page of query results. Raw is the full response
// envelope.
type QueryResult struct {
	Results    []Page
	NextCursor string
	HasMore    bool
	Raw        json.RawMessage
}

// Parent identifies the database a new page is created in.
type Parent struct {
	DatabaseID string `json:"database_id"`
}

// CreatePageRequest is the body of a page creation call.
type CreatePageRequest struct {
	Parent     Parent              `json:"parent"`
	Properties map[string]Property `json:"properties"`
}

// DecodePage parses a page and keeps its raw JSON.
func DecodePage(raw []byte) (Page, error) {
	var p Page
	if err := json.Unmarshal(raw, &p); err != nil {
		return Page{}, fmt.Errorf("decode page: %w", err)
	}
	p.Raw = append(json.RawMessage(nil), raw...)
	return p, nil
}

type queryEnvelope struct {
	Results    []json.RawMessage `json:"results"`
	NextCursor *string           `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

// DecodeQueryResult parses a query response envelope.
func DecodeQueryResult(raw []byte) (*QueryResult, error) {
	var env queryEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode query result: %w", err)
	}
	res := &QueryResult{
		Results: make([]Page, 0, len(env.Results)),
		HasMore: env.HasMore,
		Raw:     append(json.RawMessage(nil), raw...),
	}
	if env.NextCursor != nil {
		res.NextCursor = *env.NextCursor
	}
	for i, r := range env.Results {
		p, err := DecodePage(r)
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		res.Results = append(res.Results, p)
	}
	return res, nil
}
