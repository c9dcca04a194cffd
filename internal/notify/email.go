package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/swimreg/internal/providers/email"
	receiptdomain "github.com/smallbiznis/swimreg/internal/receipt/domain"
	"github.com/smallbiznis/swimreg/pkg/money"
)

var eat = time.FixedZone("EAT", 3*60*60)

// EmailNotifier mails the payer a receipt summary with a download link.
type EmailNotifier struct {
	provider email.Provider
	baseURL  string
}

func NewEmailNotifier(provider email.Provider, publicBaseURL string) *EmailNotifier {
	return &EmailNotifier{provider: provider, baseURL: strings.TrimRight(publicBaseURL, "/")}
}

func (n *EmailNotifier) NotifyReceiptReady(ctx context.Context, msg receiptdomain.ReadyMessage) error {
	recipient := strings.TrimSpace(msg.RecipientEmail)
	if recipient == "" {
		recipient = msg.Snapshot.PayerEmail
	}

	fields := map[string]any{
		"club_name":         msg.Snapshot.ClubName,
		"payer_name":        msg.Snapshot.PayerName,
		"amount":            money.Format(msg.Snapshot.Amount, msg.Snapshot.Currency),
		"receipt_number":    msg.ReceiptNumber,
		"payment_reference": msg.Snapshot.PaymentReference,
		"transaction_id":    msg.Snapshot.TransactionID,
		"paid_at":           msg.Snapshot.PaidAt.In(eat).Format("2 Jan 2006 15:04"),
	}
	if n.baseURL != "" {
		fields["download_url"] = fmt.Sprintf("%s/api/receipts/%s/download", n.baseURL, msg.InvoiceID)
	}

	return n.provider.SendTemplate(ctx, []string{recipient}, "receipt_ready", email.TemplateData{
		Subject: fmt.Sprintf("%s receipt %s", msg.Snapshot.ClubName, msg.ReceiptNumber),
		Fields:  fields,
	})
}
