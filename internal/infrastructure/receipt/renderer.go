// Package receipt renders session receipts from a point-in-time data
// snapshot.
package receipt

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"

	"github.com/prontopos/pronto-core/internal/application/lifecycle"
)

//go:embed receipt.html.tmpl
var receiptTemplate string

type HTMLRenderer struct {
	tmpl *template.Template
}

func NewHTMLRenderer() (*HTMLRenderer, error) {
	tmpl, err := template.New("receipt").Funcs(template.FuncMap{
		"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	}).Parse(receiptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse receipt template: %w", err)
	}
	return &HTMLRenderer{tmpl: tmpl}, nil
}

func (r *HTMLRenderer) Render(data lifecycle.ReceiptData) (lifecycle.Receipt, error) {
	if data.Session == nil {
		return lifecycle.Receipt{}, fmt.Errorf("render receipt: nil session")
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return lifecycle.Receipt{}, fmt.Errorf("render receipt for session %s: %w", data.Session.ID, err)
	}
	return lifecycle.Receipt{HTML: buf.Bytes()}, nil
}
