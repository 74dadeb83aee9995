package notify

import (
	"fmt"
	"strings"
)

func greeting(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", name)
}

// VoucherDelivery is sent to a customer once their payment has claimed a code.
func VoucherDelivery(to, customerName, projectName, productName, code string) Message {
	item := projectName
	if productName != "" {
		item = fmt.Sprintf("%s (%s)", projectName, productName)
	}
	return Message{
		To:      []string{to},
		Subject: fmt.Sprintf("Your voucher for %s", projectName),
		Body: fmt.Sprintf("%s\n\nThank you for your purchase of %s.\n\nYour voucher code is: %s\n\nKeep this email for your records.\n",
			greeting(customerName), item, code),
	}
}

func AccountApproved(to, name, loginURL string) Message {
	return Message{
		To:      []string{to},
		Subject: "Your account has been approved",
		Body:    fmt.Sprintf("%s\n\nYour account is now active. You can sign in at %s\n", greeting(name), loginURL),
	}
}

func AccountRejected(to, name, reason string) Message {
	body := fmt.Sprintf("%s\n\nUnfortunately your account application was not approved.\n", greeting(name))
	if reason != "" {
		body += "\nReason: " + reason + "\n"
	}
	return Message{To: []string{to}, Subject: "Your account application", Body: body}
}

// NewSignup notifies admins that an application is waiting for review.
func NewSignup(admins []string, applicantName, applicantEmail, kind, reviewURL string) Message {
	return Message{
		To:      admins,
		Subject: fmt.Sprintf("New %s signup: %s", kind, applicantName),
		Body: fmt.Sprintf("A new %s account is waiting for review.\n\nName: %s\nEmail: %s\n\nReview pending signups at %s\n",
			kind, applicantName, applicantEmail, reviewURL),
	}
}

func EmployeeIDIssued(to, employeeID, signupURL string) Message {
	return Message{
		To:      []string{to},
		Subject: "Your employee ID",
		Body: fmt.Sprintf("Hello,\n\nYour employee ID is %s. Use it with this email address to create your staff account at %s\n",
			employeeID, signupURL),
	}
}

// PasswordReset carries a one hour reset link.
func PasswordReset(to, name, resetURL string) Message {
	return Message{
		To:      []string{to},
		Subject: "Reset your password",
		Body: fmt.Sprintf("%s\n\nWe received a request to reset your password. Use this link within the next hour:\n\n%s\n\nIf you did not ask for this, you can ignore this email.\n",
			greeting(name), resetURL),
	}
}

func PasswordChanged(to, name string) Message {
	return Message{
		To:      []string{to},
		Subject: "Your password was changed",
		Body: fmt.Sprintf("%s\n\nThe password for your account was just changed. If this wasn't you, contact an administrator right away.\n",
			greeting(name)),
	}
}

func VerifyEmail(to, name, verifyURL string) Message {
	return Message{
		To:      []string{to},
		Subject: "Verify your email address",
		Body: fmt.Sprintf("%s\n\nPlease confirm your email address by opening this link within 24 hours:\n\n%s\n",
			greeting(name), verifyURL),
	}
}
