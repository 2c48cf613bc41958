package invoice

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var funcs = template.FuncMap{
	"money": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"short": func(id string) string {
		if len(id) > 8 {
			return strings.ToUpper(id[len(id)-8:])
		}
		return strings.ToUpper(id)
	},
	"addr": func(m map[string]any) []string {
		var out []string
		for _, k := range []string{"firstName", "lastName", "street", "city", "state", "zipcode", "country", "phone"} {
			if v, ok := m[k]; ok && fmt.Sprint(v) != "" {
				out = append(out, fmt.Sprint(v))
			}
		}
		return out
	},
}

var invoiceTmpl = template.Must(template.New("invoice").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Invoice {{short .Order.ID}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; color: #222; margin: 0; padding: 24px; }
h1 { margin: 0 0 4px; font-size: 28px; }
.muted { color: #777; font-size: 13px; }
.header { display: flex; justify-content: space-between; border-bottom: 2px solid #222; padding-bottom: 12px; }
.parties { display: flex; justify-content: space-between; margin: 24px 0; }
table { width: 100%; border-collapse: collapse; }
th { background: #f3f3f3; text-align: left; padding: 8px; font-size: 13px; }
td { padding: 8px; border-bottom: 1px solid #eee; font-size: 13px; }
.num { text-align: right; }
.totals { width: 320px; margin-left: auto; margin-top: 16px; }
.totals td { border: none; }
.grand td { font-weight: bold; border-top: 2px solid #222; }
</style>
</head>
<body>
<div class="header">
  <div><h1>Textile Store</h1><div class="muted">Tax invoice</div></div>
  <div class="num">
    <div>Invoice #{{short .Order.ID}}</div>
    <div class="muted">Order date {{.Order.CreatedAt.Format "02 Jan 2006"}}</div>
    <div class="muted">Generated {{.GeneratedDate}}</div>
  </div>
</div>
<div class="parties">
  <div>
    <strong>Billed to</strong>
    <div>{{.User.Name}}</div>
    <div class="muted">{{.User.Email}}</div>
  </div>
  <div class="num">
    <strong>Ship to</strong>
    {{range addr .Order.Address}}<div>{{.}}</div>{{end}}
  </div>
</div>
<table>
  <thead><tr><th>Item</th><th>Description</th><th class="num">Price</th><th class="num">Qty</th><th class="num">Amount</th></tr></thead>
  <tbody>
  {{range .Items}}<tr><td>{{.Name}}</td><td>{{.Description}}</td><td class="num">{{money .Price}}</td><td class="num">{{.Quantity}}</td><td class="num">{{money .Total}}</td></tr>
  {{end}}</tbody>
</table>
<table class="totals">
  <tr><td>Subtotal</td><td class="num">{{money .Breakdown.Subtotal}}</td></tr>
  <tr><td>Shipping</td><td class="num">{{money .Breakdown.Shipping}}</td></tr>
  {{if .Breakdown.DiscountPct}}<tr><td>Discount ({{.Breakdown.DiscountPct}}%)</td><td class="num">-{{money .Breakdown.Discount}}</td></tr>{{end}}
  <tr class="grand"><td>Total</td><td class="num">{{money .Breakdown.GrandTotal}}</td></tr>
</table>
<p class="muted">Payment: {{.Order.PaymentMethod}}{{if .Order.Payment}} (paid){{else}} (pending){{end}}</p>
</body>
</html>
`))

// RenderHTML fills the invoice template.
func RenderHTML(d *Data) (string, error) {
	var buf bytes.Buffer
	if err := invoiceTmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render invoice template: %w", err)
	}
	return buf.String(), nil
}
