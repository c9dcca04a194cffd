package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/swimreg/internal/providers/email"
	receiptdomain "github.com/smallbiznis/swimreg/internal/receipt/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedPublish struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	published []recordedPublish
	err       error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, recordedPublish{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error { return nil }

type fakeEmail struct {
	to       []string
	template string
	data     email.TemplateData
	err      error
}

func (f *fakeEmail) Send(context.Context, []string, string, string) error { return f.err }

func (f *fakeEmail) SendTemplate(_ context.Context, to []string, name string, data email.TemplateData) error {
	f.to, f.template, f.data = to, name, data
	return f.err
}

func readyMessage() receiptdomain.ReadyMessage {
	paidAt := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	return receiptdomain.ReadyMessage{
		EventID:        snowflake.ID(11),
		ReceiptID:      snowflake.ID(12),
		PaymentID:      snowflake.ID(13),
		InvoiceID:      snowflake.ID(14),
		ReceiptNumber:  "RCP-2026-000007",
		RecipientEmail: "parent@example.com",
		IssuedAt:       paidAt,
		Snapshot: receiptdomain.Snapshot{
			ClubName:         "Otters Kenya",
			PaymentReference: "REG-01J",
			Amount:           700000,
			Currency:         "KES",
			PayerName:        "Jane Wanjiru",
			PayerEmail:       "parent@example.com",
			PaidAt:           paidAt,
		},
	}
}

func TestPublisherSendsReceiptReady(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{ch: ch, exchange: "swimreg.events"}

	require.NoError(t, p.NotifyReceiptReady(context.Background(), readyMessage()))
	require.Len(t, ch.published, 1)

	got := ch.published[0]
	assert.Equal(t, "swimreg.events", got.exchange)
	assert.Equal(t, RoutingKeyReceiptReady, got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, "11", got.msg.MessageId)

	var decoded receiptdomain.ReadyMessage
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, "RCP-2026-000007", decoded.ReceiptNumber)
}

func TestEmailNotifierRendersFields(t *testing.T) {
	provider := &fakeEmail{}
	n := NewEmailNotifier(provider, "https://portal.otterskenya.org/")

	require.NoError(t, n.NotifyReceiptReady(context.Background(), readyMessage()))
	assert.Equal(t, []string{"parent@example.com"}, provider.to)
	assert.Equal(t, "receipt_ready", provider.template)
	assert.Equal(t, "Otters Kenya receipt RCP-2026-000007", provider.data.Subject)
	assert.Equal(t, "https://portal.otterskenya.org/api/receipts/14/download", provider.data.Fields["download_url"])
	assert.Equal(t, "19 Oct 2026 12:30", provider.data.Fields["paid_at"])
}

func TestMultiJoinsFailures(t *testing.T) {
	boom := errors.New("smtp down")
	ch := &fakeChannel{}
	m := Multi{&Publisher{ch: ch, exchange: "x"}, NewEmailNotifier(&fakeEmail{err: boom}, "")}

	err := m.NotifyReceiptReady(context.Background(), readyMessage())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ch.published, 1, "other notifiers still run")
}
