// Package mailer delivers share notifications.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"
)

// Message is a rendered notification.
// From is the address of the person sharing the file; transports decide whether it
// goes into the From or the Reply-To header.
type Message struct {
	To      string
	From    string
	Subject string
	Text    string
	HTML    string
}

// Receipt is returned by a transport once the relay accepted a message.
type Receipt struct {
	MessageID  string    `json:"message_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Mailer is the notification sender.
type Mailer interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
}

// ShareEmail is the data rendered into the share notification.
type ShareEmail struct {
	EmailFrom    string
	DownloadLink string
	Size         string
	Expires      string
}

//go:embed templates/share.html
var templatesFS embed.FS

var shareTemplate = template.Must(template.ParseFS(templatesFS, "templates/share.html"))

// RenderShareHTML renders the HTML body of a share notification.
func RenderShareHTML(data ShareEmail) (string, error) {
	var buf bytes.Buffer
	if err := shareTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render share template: %w", err)
	}
	return buf.String(), nil
}
