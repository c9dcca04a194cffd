package pdf

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptDocument carries display-ready strings; amounts are already formatted.
type ReceiptDocument struct {
	ClubName         string
	ClubEmail        string
	ReceiptNumber    string
	IssuedAt         string
	PaidAt           string
	PayerName        string
	PayerEmail       string
	PayerPhone       string
	PaymentMethod    string
	PaymentReference string
	TransactionID    string
	Items            []ReceiptLine
	Total            string
}

type ReceiptLine struct {
	Description string
	Qty         int64
	UnitPrice   string
	Amount      string
}

func (p *MarotoProvider) GenerateReceipt(_ context.Context, doc ReceiptDocument) ([]byte, error) {
	if doc.ReceiptNumber == "" {
		return nil, fmt.Errorf("receipt number is required")
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, doc.ClubName, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "RECEIPT", props.Text{
			Size:  16,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Receipt number: "+doc.ReceiptNumber, props.Text{Top: 0}),
			text.New("Issued: "+doc.IssuedAt, props.Text{Top: 5}),
			text.New("Paid: "+doc.PaidAt, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Received from", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(doc.PayerName, props.Text{Top: 5, Align: align.Right}),
			text.New(doc.PayerEmail, props.Text{Top: 10, Align: align.Right}),
			text.New(doc.PayerPhone, props.Text{Top: 15, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, item := range doc.Items {
		m.AddRow(8,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Qty), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(12,
		col.New(8),
		text.NewCol(2, "Total paid", props.Text{Size: 10, Style: fontstyle.Bold, Top: 3}),
		text.NewCol(2, doc.Total, props.Text{Size: 10, Style: fontstyle.Bold, Top: 3, Align: align.Right}),
	)

	m.AddRow(20,
		col.New(12).Add(
			text.New("Payment method: "+doc.PaymentMethod, props.Text{Size: 9, Top: 4}),
			text.New("Payment reference: "+doc.PaymentReference, props.Text{Size: 9, Top: 9}),
			text.New("Transaction: "+doc.TransactionID, props.Text{Size: 9, Top: 14}),
		),
	)

	if doc.ClubEmail != "" {
		m.AddRow(10,
			text.NewCol(12, "Questions? Contact "+doc.ClubEmail, props.Text{Size: 8, Align: align.Center, Top: 4}),
		)
	}

	out, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return out.GetBytes(), nil
}
