// Package notify delivers one-time passcodes to the admin mailbox
package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"
)

// OTPSubject is the subject line of passcode mails
const OTPSubject = "Admin Login OTP - Contact Desk"

// EmailTypeOTP tags passcode mails in the delivery log
const EmailTypeOTP = "otp"

// Notifier delivers a code to an identity
type Notifier interface {
	SendCode(ctx context.Context, identity, code string, ttl time.Duration) error
}

var otpBody = template.Must(template.New("otp").Parse(`Hello {{.Name}},

Your admin login code is: {{.Code}}

This code expires in {{.Minutes}} minutes and can be used once.
If you did not request it, you can ignore this email.
`))

// RenderBody renders the plain-text passcode mail addressed to name
func RenderBody(name, code string, ttl time.Duration) (string, error) {
	if name == "" {
		name = "Admin"
	}
	var buf bytes.Buffer
	err := otpBody.Execute(&buf, struct {
		Name    string
		Code    string
		Minutes int
	}{name, code, int(ttl / time.Minute)})
	if err != nil {
		return "", fmt.Errorf("failed to render otp email: %w", err)
	}
	return buf.String(), nil
}
