package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

// Template refs recorded on log rows; resends look these up to decide
// whether a recent identical dispatch already went out.
const (
	TemplateVerifyEmail   = "verify_email"
	TemplatePasswordReset = "password_reset"
	TemplateWelcome       = "welcome"
	TemplateOTP           = "otp_sms"
)

var (
	verifyEmailTmpl = template.Must(template.New(TemplateVerifyEmail).Parse(`<p>Welcome to AfriConnect Exchange!</p>
<p>Confirm your email address to activate your account:</p>
<p><a href="{{.Link}}">Verify my email</a></p>
<p>This link expires in {{.TTL}}. If you did not create an account, you can ignore this message.</p>`))

	passwordResetTmpl = template.Must(template.New(TemplatePasswordReset).Parse(`<p>We received a request to reset your AfriConnect Exchange password.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>This link expires in {{.TTL}}. If you did not request a reset, no action is needed and your password is unchanged.</p>`))

	welcomeTmpl = template.Must(template.New(TemplateWelcome).Parse(`<p>Hi {{.Name}},</p>
<p>Your email is verified and your AfriConnect Exchange account is active. You can now browse listings, message sellers, and post your own offers.</p>
<p>Happy trading!</p>`))
)

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	// Parsed templates over struct data cannot fail at execute time.
	_ = t.Execute(&buf, data)
	return buf.String()
}

// VerificationEmail builds the account-activation message. ttl is shown to
// the recipient, e.g. "24 hours".
func VerificationEmail(to, link, ttl string) Message {
	return Message{
		Channel:   ChannelEmail,
		Recipient: to,
		Template:  TemplateVerifyEmail,
		Subject:   "Verify your AfriConnect Exchange account",
		Body:      render(verifyEmailTmpl, struct{ Link, TTL string }{link, ttl}),
	}
}

// PasswordResetEmail builds the reset-link message.
func PasswordResetEmail(to, link, ttl string) Message {
	return Message{
		Channel:   ChannelEmail,
		Recipient: to,
		Template:  TemplatePasswordReset,
		Subject:   "Reset your AfriConnect Exchange password",
		Body:      render(passwordResetTmpl, struct{ Link, TTL string }{link, ttl}),
	}
}

// WelcomeEmail builds the post-verification greeting. name may be empty.
func WelcomeEmail(to, name string) Message {
	if name == "" {
		name = "there"
	}
	return Message{
		Channel:   ChannelEmail,
		Recipient: to,
		Template:  TemplateWelcome,
		Subject:   "Welcome to AfriConnect Exchange",
		Body:      render(welcomeTmpl, struct{ Name string }{name}),
	}
}

// OTPSMS builds the phone-verification text.
func OTPSMS(to, code string) Message {
	return Message{
		Channel:   ChannelSMS,
		Recipient: to,
		Template:  TemplateOTP,
		Body:      fmt.Sprintf("%s is your AfriConnect Exchange verification code. It expires in 10 minutes. Never share this code.", code),
	}
}
