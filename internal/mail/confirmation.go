package mail

import (
	"fmt"
	"html"
	"time"
)

const confirmationSubject = "Email Confirmation"

// ConfirmationMessage renders the registration confirmation email body.
func ConfirmationMessage(firstName, lastName, code string, validFor time.Duration) (subject string, body string) {
	name := html.EscapeString(fmt.Sprintf("%s %s", firstName, lastName))

	body = fmt.Sprintf(
		"<p>Dear User %s,</p>"+
			"<p>Please confirm your registration.</p>"+
			"<p>Here is your confirmation code: <b>%s</b></p>"+
			"<p>Please note that the confirmation code is only valid for %d minutes.</p>"+
			"<p>With all wishes</p>",
		name, code, int(validFor.Minutes()),
	)

	return confirmationSubject, body
}
