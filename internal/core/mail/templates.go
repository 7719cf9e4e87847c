package mail

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*
var templateFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.txt"))
)

const VerificationSubject = "Confirma tu correo electrónico - PMR"

type verificationData struct {
	Name      string
	URL       string
	Token     string
	ExpiresAt string
}

// VerificationURL is the frontend route that completes email verification.
func VerificationURL(frontendURL, token string) string {
	return strings.TrimRight(frontendURL, "/") + "/#/verify-email?token=" + url.QueryEscape(token)
}

func VerificationEmail(to, name, frontendURL, token string, expiresAt time.Time) (Message, error) {
	data := verificationData{
		Name:      name,
		URL:       VerificationURL(frontendURL, token),
		Token:     token,
		ExpiresAt: expiresAt.Format("02/01/2006 15:04"),
	}

	var html, text bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, "email_verification.html", data); err != nil {
		return Message{}, err
	}
	if err := textTemplates.ExecuteTemplate(&text, "email_verification.txt", data); err != nil {
		return Message{}, err
	}

	return Message{
		To:      []string{to},
		Subject: VerificationSubject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
