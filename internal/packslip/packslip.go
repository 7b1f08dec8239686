// Package packslip renders printable packing slips from a read-only snapshot
// of one work item and its owning order. It never mutates state and is meant
// to be invoked only once the ship guard has passed.
package packslip

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"cyclone/internal/domain"
)

// Input is the snapshot a slip is rendered from.
type Input struct {
	Item      domain.WorkItem
	Order     domain.Order
	PackedBy  string
	FloorName string
	PrintedAt time.Time
}

type slipData struct {
	Item      domain.WorkItem
	Order     domain.Order
	PackedBy  string
	FloorName string
	Printed   string
	DueDate   string
}

// Render writes the HTML slip.
func Render(w io.Writer, in Input) error {
	if in.PackedBy == "" {
		in.PackedBy = "Operator"
	}
	if in.FloorName == "" {
		in.FloorName = "Cyclone Manufacturing"
	}
	if in.PrintedAt.IsZero() {
		in.PrintedAt = time.Now()
	}
	due := "Not specified"
	if !in.Order.DueDate.IsZero() {
		due = in.Order.DueDate.Format("Jan 2, 2006")
	}
	data := slipData{
		Item:      in.Item,
		Order:     in.Order,
		PackedBy:  in.PackedBy,
		FloorName: in.FloorName,
		Printed:   in.PrintedAt.Format("Mon, Jan 2 2006 15:04:05"),
		DueDate:   due,
	}
	if err := slipTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render packing slip: %w", err)
	}
	return nil
}

var slipTemplate = template.Must(template.New("packslip").Parse(`<!DOCTYPE html>
<html>
  <head>
    <title>Packing Slip - {{.Order.ID}}</title>
    <style>
      * { margin: 0; padding: 0; }
      body { font-family: Arial, sans-serif; line-height: 1.6; padding: 20px; background: white; color: #000; }
      .container { max-width: 800px; margin: 0 auto; border: 2px solid #000; padding: 30px; }
      .header { text-align: center; margin-bottom: 30px; border-bottom: 3px solid #000; padding-bottom: 20px; }
      .header h1 { font-size: 28px; margin-bottom: 5px; }
      .header p { font-size: 12px; color: #666; }
      .date-time { text-align: right; font-size: 11px; margin-bottom: 20px; }
      .section { margin-bottom: 25px; }
      .section-title { font-size: 14px; font-weight: bold; background: #f0f0f0; padding: 8px 12px; margin-bottom: 12px; border-left: 4px solid #2563eb; }
      .field { margin-bottom: 8px; font-size: 13px; }
      .field-label { font-weight: bold; color: #333; display: inline-block; width: 140px; }
      table { width: 100%; border-collapse: collapse; margin-top: 10px; font-size: 13px; }
      table th { background: #e5e7eb; border: 1px solid #000; padding: 10px; text-align: left; font-weight: bold; }
      table td { border: 1px solid #ccc; padding: 10px; }
      .barcode { font-family: monospace; font-size: 14px; font-weight: bold; margin: 5px 0; background: #f5f5f5; padding: 8px; border: 1px solid #ccc; text-align: center; }
      .notes { background: #f9fafb; border-left: 3px solid #f59e0b; padding: 12px; margin-top: 15px; font-size: 12px; }
      .footer { margin-top: 30px; text-align: center; font-size: 11px; color: #666; border-top: 1px solid #ccc; padding-top: 15px; }
      @media print { body { padding: 0; } .container { border: none; padding: 0; } }
    </style>
  </head>
  <body>
    <div class="container">
      <div class="header">
        <h1>PACKING SLIP</h1>
        <p>{{.FloorName}} - Workflow Control System</p>
      </div>
      <div class="date-time"><strong>Printed:</strong> {{.Printed}}</div>
      <div class="section">
        <div class="section-title">ORDER INFORMATION</div>
        <div class="field"><span class="field-label">Order ID:</span> {{.Item.OrderID}}</div>
        <div class="field"><span class="field-label">Order Number:</span> {{.Order.OrderNumber}}</div>
        <div class="field"><span class="field-label">Item Status:</span> {{.Item.Status}}</div>
        <div class="field"><span class="field-label">Priority:</span> {{.Item.Priority}}</div>
      </div>
      <div class="section">
        <div class="section-title">SHIP TO</div>
        <div class="field"><span class="field-label">Customer:</span> {{.Order.CustomerName}}</div>
        <div class="field"><span class="field-label">Due Date:</span> {{.DueDate}}</div>
      </div>
      <div class="section">
        <div class="section-title">ITEMS TO SHIP</div>
        <table>
          <thead>
            <tr><th>Item ID</th><th>Description</th><th>Qty</th><th>Status</th></tr>
          </thead>
          <tbody>
            <tr>
              <td><strong>{{.Item.ID}}</strong></td>
              <td>{{.Item.Name}}{{if .Item.Description}}<br><span style="font-size: 11px; color: #666;">{{.Item.Description}}</span>{{end}}</td>
              <td style="text-align: center;"><strong>{{.Item.Quantity}}</strong></td>
              <td>{{.Item.Status}}</td>
            </tr>
          </tbody>
        </table>
      </div>
      <div class="section">
        <div class="section-title">BARCODE</div>
        <div class="barcode">{{.Item.ID}}</div>
        <p style="text-align: center; font-size: 11px; color: #666; margin-top: 5px;">Scan barcode to verify shipment</p>
      </div>
      <div class="notes">
        <strong>Important:</strong> Verify all items match this packing slip before sealing the package. Check order number, quantities, and item descriptions.
      </div>
      <div class="footer">
        <p>Packed by: {{.PackedBy}} | System: {{.FloorName}} WCS</p>
        <p>Do not include this slip in the package. Attach to outside of box.</p>
      </div>
    </div>
  </body>
</html>
`))
