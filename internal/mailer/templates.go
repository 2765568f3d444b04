package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/joao-fontenele/ecohaat/internal/domain"
)

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f4f7f2; padding: 24px;">
{{if .Preview}}<div style="display:none;">{{.Preview}}</div>{{end}}
<div style="max-width: 560px; margin: 0 auto; background: #ffffff; border-radius: 8px; padding: 24px;">
<h2 style="color: #2f6b2f;">{{.Heading}}</h2>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{if .ActionURL}}<p><a href="{{.ActionURL}}" style="background: #2f6b2f; color: #ffffff; padding: 10px 16px; border-radius: 4px; text-decoration: none;">{{.ActionLabel}}</a></p>
{{end}}<p style="color: #888888; font-size: 12px;">EcoHaat</p>
</div>
</body>
</html>`))

type page struct {
	Preview     string
	Heading     string
	Paragraphs  []string
	ActionURL   string
	ActionLabel string
}

func render(to, subject string, p page) (Message, error) {
	var buf bytes.Buffer
	if err := layout.Execute(&buf, p); err != nil {
		return Message{}, fmt.Errorf("render %q: %w", subject, err)
	}

	text := p.Heading + "\n\n" + strings.Join(p.Paragraphs, "\n\n")
	if p.ActionURL != "" {
		text += "\n\n" + p.ActionLabel + ": " + p.ActionURL
	}

	return Message{To: to, Subject: subject, HTML: buf.String(), Text: text}, nil
}

var statusLabels = map[domain.Status]string{
	domain.StatusPending:            "Pending",
	domain.StatusConfirmed:          "Accepted by seller",
	domain.StatusProcessing:         "Processing",
	domain.StatusShipped:            "Shipped",
	domain.StatusAtStation:          "At delivery station",
	domain.StatusReachedDestination: "Reached your area",
	domain.StatusDelivered:          "Delivered",
	domain.StatusCancelled:          "Cancelled",
	domain.StatusDenied:             "Denied by seller",
}

func statusLabel(s domain.Status) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

type Renderer struct {
	frontendURL string
}

func NewRenderer(frontendURL string) *Renderer {
	return &Renderer{frontendURL: strings.TrimRight(frontendURL, "/")}
}

func (r *Renderer) BuyerOrderStatus(to string, orderID int64, orderNumber string, status domain.Status, note string) (Message, error) {
	p := page{
		Preview:    fmt.Sprintf("Order %s: %s", orderNumber, statusLabel(status)),
		Heading:    "Your order status changed",
		Paragraphs: []string{fmt.Sprintf("Order %s is now: %s.", orderNumber, statusLabel(status))},
	}
	if note != "" {
		p.Paragraphs = append(p.Paragraphs, note)
	}
	if orderID > 0 {
		p.ActionURL = fmt.Sprintf("%s/orders/%d", r.frontendURL, orderID)
		p.ActionLabel = "View order"
	}
	return render(to, fmt.Sprintf("Order %s - %s", orderNumber, statusLabel(status)), p)
}

func (r *Renderer) SellerOrderStatus(to, orderNumber string, status domain.Status, buyerName string) (Message, error) {
	line := fmt.Sprintf("Order %s is now: %s.", orderNumber, statusLabel(status))
	if buyerName != "" {
		line = fmt.Sprintf("Order %s from %s is now: %s.", orderNumber, buyerName, statusLabel(status))
	}
	p := page{
		Heading:     "Order update",
		Paragraphs:  []string{line},
		ActionURL:   r.frontendURL + "/seller/orders",
		ActionLabel: "Open seller dashboard",
	}
	return render(to, fmt.Sprintf("[Seller] Order %s - %s", orderNumber, statusLabel(status)), p)
}

func (r *Renderer) AdminOrderStatus(to, orderNumber string, status domain.Status, note string) (Message, error) {
	p := page{
		Heading:     "Order update",
		Paragraphs:  []string{fmt.Sprintf("Order %s is now: %s.", orderNumber, statusLabel(status))},
		ActionURL:   r.frontendURL + "/admin/orders",
		ActionLabel: "Open admin dashboard",
	}
	if note != "" {
		p.Paragraphs = append(p.Paragraphs, note)
	}
	return render(to, fmt.Sprintf("[Admin] Order %s - %s", orderNumber, statusLabel(status)), p)
}

func (r *Renderer) SellerPayout(to, orderNumber string, amount int64, note string) (Message, error) {
	p := page{
		Heading:    "Payment sent",
		Paragraphs: []string{fmt.Sprintf("৳%d for order %s has been sent to you.", amount, orderNumber)},
	}
	if note != "" {
		p.Paragraphs = append(p.Paragraphs, note)
	}
	return render(to, fmt.Sprintf("Payment sent for order %s", orderNumber), p)
}

func (r *Renderer) AdminMessage(to, subject, message string) (Message, error) {
	return render(to, subject, page{Heading: subject, Paragraphs: splitParagraphs(message)})
}

func (r *Renderer) Newsletter(to, subject, content, previewText string) (Message, error) {
	return render(to, subject, page{
		Preview:     previewText,
		Heading:     subject,
		Paragraphs:  splitParagraphs(content),
		ActionURL:   r.frontendURL,
		ActionLabel: "Visit EcoHaat",
	})
}

func (r *Renderer) OTP(to, code string, ttl time.Duration) (Message, error) {
	return render(to, "Your EcoHaat verification code", page{
		Preview: "Your verification code is " + code,
		Heading: "Verification code",
		Paragraphs: []string{
			"Your verification code is: " + code,
			fmt.Sprintf("It expires in %d minutes. If you did not request it, ignore this email.", int(ttl.Minutes())),
		},
	})
}

func splitParagraphs(s string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
