package email

import (
	"fmt"
	"html"

	"github.com/resend/resend-go/v3"
)

// ResendEmailService implements EmailService using the Resend API.
type ResendEmailService struct {
	client      *resend.Client
	fromAddress string
}

// NewResendEmailService creates a new Resend email service.
// apiKey is the Resend API key.
// fromAddress is the sender email address (must be verified in Resend).
func NewResendEmailService(apiKey, fromAddress string) *ResendEmailService {
	return &ResendEmailService{
		client:      resend.NewClient(apiKey),
		fromAddress: fromAddress,
	}
}

// Send sends an email using the specified template via Resend.
func (r *ResendEmailService) Send(to, templateName string, data any) error {
	subject, body := r.renderTemplate(templateName, data)

	params := &resend.SendEmailRequest{
		From:    r.fromAddress,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}

	_, err := r.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}

	return nil
}

// renderTemplate renders the email template and returns subject and HTML body.
func (r *ResendEmailService) renderTemplate(templateName string, data any) (subject, body string) {
	switch templateName {
	case TemplateFlowFailed:
		d, ok := data.(FlowFailedData)
		if !ok {
			break
		}
		subject = fmt.Sprintf("[flowcheck] %s: %s", d.Outcome, d.Target)
		body = renderFlowFailedHTML(d)
		return
	}
	subject = "Message from flowcheck"
	body = fmt.Sprintf("<p>%s</p>", html.EscapeString(fmt.Sprintf("%+v", data)))
	return
}

// renderFlowFailedHTML generates HTML for failure alerts.
func renderFlowFailedHTML(d FlowFailedData) string {
	esc := html.EscapeString
	links := ""
	if d.ReportURL != "" {
		links += fmt.Sprintf(`<p><a href="%s">Full report</a></p>`, esc(d.ReportURL))
	}
	if d.Screenshot != "" {
		links += fmt.Sprintf(`<p>Error screenshot: %s</p>`, esc(d.Screenshot))
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Sign-in flow failed</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: #b91c1c; padding: 20px; border-radius: 10px 10px 0 0;">
        <h1 style="color: white; margin: 0; font-size: 22px;">Sign-in flow failed</h1>
    </div>
    <div style="background: #ffffff; padding: 24px; border: 1px solid #e0e0e0; border-top: none; border-radius: 0 0 10px 10px;">
        <table style="border-collapse: collapse;">
            <tr><td style="padding-right: 12px;"><strong>Target</strong></td><td>%s</td></tr>
            <tr><td style="padding-right: 12px;"><strong>Outcome</strong></td><td>%s</td></tr>
            <tr><td style="padding-right: 12px;"><strong>Failed step</strong></td><td>%s</td></tr>
            <tr><td style="padding-right: 12px;"><strong>Final URL</strong></td><td>%s</td></tr>
            <tr><td style="padding-right: 12px;"><strong>Run ID</strong></td><td>%s</td></tr>
        </table>
        <pre style="background: #f5f5f5; padding: 12px; white-space: pre-wrap;">%s</pre>
        %s
        <hr style="border: none; border-top: 1px solid #e0e0e0; margin: 20px 0;">
        <p style="color: #999; font-size: 12px;">Automated alert from flowcheck.</p>
    </div>
</body>
</html>`, esc(d.Target), esc(d.Outcome), esc(d.FailedStep), esc(d.FinalURL), esc(d.RunID), esc(d.Error), links)
}
