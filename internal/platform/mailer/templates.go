package mailer

import (
	"context"
	"fmt"
	"html"
)

func SendVerification(ctx context.Context, m Service, to, username, link string) error {
	body := fmt.Sprintf(`<p>Hi %s,</p>
<p>Confirm your email address to start scheduling:</p>
<p><a href="%s">Verify email</a></p>
<p>If you did not create an account you can ignore this message.</p>`,
		html.EscapeString(username), html.EscapeString(link))
	return m.Send(ctx, to, "Verify your email", body)
}

func SendPasswordReset(ctx context.Context, m Service, to, username, link string) error {
	body := fmt.Sprintf(`<p>Hi %s,</p>
<p>Someone asked to reset your password. The link below expires shortly:</p>
<p><a href="%s">Reset password</a></p>
<p>If this was not you, no action is needed.</p>`,
		html.EscapeString(username), html.EscapeString(link))
	return m.Send(ctx, to, "Reset your password", body)
}
