// Package email delivers review notifications via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	AppName  string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	if config.AppName == "" {
		config.AppName = "Profile Archive"
	}
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return nil
	}
	return s.send(s.server, s.auth, s.config.From, to, s.buildMessage(to, subject, htmlBody))
}

func (s *Service) buildMessage(to []string, subject, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-profile-archive"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

// SubmissionData feeds the steward notification template.
type SubmissionData struct {
	AppName     string
	StewardName string
	ProfileName string
	ItemCount   int
}

// DecisionData feeds the owner notification sent after a review decision.
type DecisionData struct {
	AppName      string
	OwnerName    string
	ProfileName  string
	Decision     string
	ReviewerNote string
}

// SendSubmissionNotice tells a steward a profile is waiting for review.
func (s *Service) SendSubmissionNotice(to string, data SubmissionData) error {
	data.AppName = s.config.AppName
	html, err := renderTemplate(submissionTemplate, data)
	if err != nil {
		return fmt.Errorf("render submission template: %w", err)
	}
	subject := fmt.Sprintf("%s is ready for review", displayName(data.ProfileName))
	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendDecisionNotice tells the owner how a review ended.
func (s *Service) SendDecisionNotice(to string, data DecisionData) error {
	data.AppName = s.config.AppName
	html, err := renderTemplate(decisionTemplate, data)
	if err != nil {
		return fmt.Errorf("render decision template: %w", err)
	}
	subject := fmt.Sprintf("Your %s profile was reviewed", data.AppName)
	return s.SendHTMLEmail([]string{to}, subject, html)
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "A profile"
	}
	return name
}

var (
	submissionTemplate = template.Must(template.New("submission").Parse(submissionHTML))
	decisionTemplate   = template.Must(template.New("decision").Parse(decisionHTML))
)

func renderTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const submissionHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.ProfileName}} is ready for review</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2f6b4f; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.StewardName}},</p>

    <p><strong>{{.ProfileName}}</strong> has been submitted for review with {{.ItemCount}} contribution{{if ne .ItemCount 1}}s{{end}}.</p>

    <p>Nothing is visible to family, connections or the public until you approve it.</p>

    <div class="footer">
        <p>You are receiving this because you are a steward of this profile.</p>
    </div>
</body>
</html>`

const decisionHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Your profile was reviewed</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2f6b4f; padding-bottom: 10px; margin-bottom: 20px; }
        .note { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.OwnerName}},</p>

    <p>The review of <strong>{{.ProfileName}}</strong> finished: {{.Decision}}.</p>
    {{if .ReviewerNote}}
    <div class="note">
        <strong>Reviewer note:</strong> {{.ReviewerNote}}
    </div>
    {{end}}
</body>
</html>`
