// Package export implements the CLI's --format writers: one JSON value (or
// line) per document element, in a shape consumers of that format expect.
// Only jsonl and chatml are implemented without a model/tokenizer
// dependency; markdown/alpaca/sharegpt are registered but return
// domain.ErrNotImplemented, per an open design decision recorded in
// DESIGN.md.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/domain"
)

// Format names the export formats spec.md's CLI surface lists.
type Format string

const (
	FormatJSONL    Format = "jsonl"
	FormatMarkdown Format = "markdown"
	FormatChatML   Format = "chatml"
	FormatAlpaca   Format = "alpaca"
	FormatShareGPT Format = "sharegpt"
)

// Document is one exportable unit: a document's finalized elements in
// reading order.
type Document struct {
	ID       uuid.UUID
	Elements []domain.Element
}

// Writer renders a Document in one export format.
type Writer interface {
	Write(ctx context.Context, w io.Writer, doc Document) error
}

// Registry resolves a Format to its Writer.
type Registry struct {
	writers map[Format]Writer
}

// NewRegistry builds the registry with every spec-named format registered —
// stubs included, so callers get domain.ErrNotImplemented rather than an
// unknown-format error for names the CLI contract promises.
func NewRegistry() *Registry {
	r := &Registry{writers: make(map[Format]Writer)}
	r.writers[FormatJSONL] = jsonlWriter{}
	r.writers[FormatChatML] = chatMLWriter{}
	r.writers[FormatMarkdown] = notImplementedWriter{format: FormatMarkdown}
	r.writers[FormatAlpaca] = notImplementedWriter{format: FormatAlpaca}
	r.writers[FormatShareGPT] = notImplementedWriter{format: FormatShareGPT}
	return r
}

// Write resolves format and writes doc through it.
func (r *Registry) Write(ctx context.Context, format Format, w io.Writer, doc Document) error {
	writer, ok := r.writers[format]
	if !ok {
		return fmt.Errorf("export: unknown format %q", format)
	}
	return writer.Write(ctx, w, doc)
}

type notImplementedWriter struct {
	format Format
}

func (n notImplementedWriter) Write(context.Context, io.Writer, Document) error {
	return fmt.Errorf("export: format %q: %w", n.format, domain.ErrNotImplemented)
}

// jsonlRecord is one jsonl line: an element flattened to its exportable
// fields.
type jsonlRecord struct {
	DocumentID string `json:"document_id"`
	ElementID  string `json:"element_id"`
	Kind       string `json:"kind"`
	Page       int    `json:"page"`
	Position   int    `json:"position"`
	Text       string `json:"text,omitempty"`
}

type jsonlWriter struct{}

func (jsonlWriter) Write(ctx context.Context, w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	for _, el := range doc.Elements {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := jsonlRecord{
			DocumentID: doc.ID.String(),
			ElementID:  el.ID.String(),
			Kind:       string(el.Kind),
			Page:       el.BBox.Page,
			Position:   el.Position,
		}
		if el.Text != nil {
			rec.Text = *el.Text
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("export: jsonl encode element %s: %w", el.ID, err)
		}
	}
	return nil
}

// chatMLMessage is a single ChatML-style message.
type chatMLMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatMLRecord struct {
	Messages []chatMLMessage `json:"messages"`
}

// chatMLWriter emits one ChatML record per element: a user-role message
// whose content is "<kind>: <text>", which is the format's natural unit for
// an un-annotated element stream (no conversation turns exist yet to pair
// into user/assistant roles).
type chatMLWriter struct{}

func (chatMLWriter) Write(ctx context.Context, w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	for _, el := range doc.Elements {
		if err := ctx.Err(); err != nil {
			return err
		}
		if el.Text == nil || *el.Text == "" {
			continue
		}
		rec := chatMLRecord{Messages: []chatMLMessage{
			{Role: "user", Content: fmt.Sprintf("%s: %s", el.Kind, *el.Text)},
		}}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("export: chatml encode element %s: %w", el.ID, err)
		}
	}
	return nil
}
