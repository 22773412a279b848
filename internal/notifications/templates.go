package notifications

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/mailer"
)

var (
	confirmationTmpl = template.Must(template.New("confirmation").Parse(
		`<h2>Thank you for your order{{if .Name}}, {{.Name}}{{end}}!</h2>` +
			`<p>Order <strong>{{.OrderID}}</strong> has been received and is now <strong>{{.Status}}</strong>.</p>` +
			`<table>{{range .Items}}<tr><td>{{.ProductName}}</td><td>x{{.Qty}}</td><td>KES {{.PriceAtOrder.StringFixed 2}}</td></tr>{{end}}</table>` +
			`<p>Total paid: <strong>KES {{.Amount}}</strong></p>`))

	reminderTmpl = template.Must(template.New("reminder").Parse(
		`<p>{{.Message}}</p>` +
			`<p><a href="{{.PayURL}}">Complete your payment</a></p>`))

	failedTmpl = template.Must(template.New("failed").Parse(
		`<p>We could not confirm payment for order <strong>{{.OrderID}}</strong>.</p>` +
			`<p>{{.Reason}}</p>`))
)

// ReminderText is the message stored on the order and shown to the customer.
func ReminderText(order *models.Order) string {
	return fmt.Sprintf("Payment reminder sent for order %s - Amount due: KES %s", order.ID, order.AmountDue().StringFixed(2))
}

// PayURL is the storefront page where the customer retries payment.
func PayURL(frontendURL string, order *models.Order) string {
	return fmt.Sprintf("%s/pay?orderId=%s", frontendURL, order.ID)
}

func OrderConfirmation(order *models.Order) mailer.Message {
	amount := order.AmountDue().StringFixed(2)
	return mailer.Message{
		To:      order.CustomerEmail,
		ToName:  order.CustomerName,
		Subject: fmt.Sprintf("Order %s confirmed", order.ID),
		HTML: render(confirmationTmpl, map[string]any{
			"Name":    order.CustomerName,
			"OrderID": order.ID.String(),
			"Status":  string(order.Status),
			"Items":   order.Items,
			"Amount":  amount,
		}),
		Text: fmt.Sprintf("Order %s confirmed. Total paid: KES %s", order.ID, amount),
	}
}

func PaymentReminder(order *models.Order, payURL string) mailer.Message {
	text := ReminderText(order)
	return mailer.Message{
		To:      order.CustomerEmail,
		ToName:  order.CustomerName,
		Subject: fmt.Sprintf("Payment reminder for order %s", order.ID),
		HTML:    render(reminderTmpl, map[string]any{"Message": text, "PayURL": payURL}),
		Text:    text + "\n" + payURL,
	}
}

func PaymentFailed(order *models.Order, reason string) mailer.Message {
	return mailer.Message{
		To:      order.CustomerEmail,
		ToName:  order.CustomerName,
		Subject: fmt.Sprintf("Payment for order %s was not completed", order.ID),
		HTML:    render(failedTmpl, map[string]any{"OrderID": order.ID.String(), "Reason": reason}),
		Text:    fmt.Sprintf("We could not confirm payment for order %s. %s", order.ID, reason),
	}
}

func render(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}
