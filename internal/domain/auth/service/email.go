package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/maytees/homifyai-sub000/pkg/mailer"
)

// EmailSender delivers the account lifecycle emails.
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, to, name, code string) error
	SendPasswordResetEmail(ctx context.Context, to, name, resetURL string) error
	SendWelcomeEmail(ctx context.Context, to, name string) error
}

var _ EmailSender = (*EmailService)(nil)

type EmailService struct {
	sender mailer.Sender
}

func NewEmailService(sender mailer.Sender) *EmailService {
	return &EmailService{sender: sender}
}

func greeting(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Hi,"
	}
	return fmt.Sprintf("Hi %s,", name)
}

func (e *EmailService) SendVerificationEmail(ctx context.Context, to, name, code string) error {
	return e.sender.Send(ctx, mailer.Message{
		To:      to,
		Subject: "Your Spacemint AI verification code",
		Body: fmt.Sprintf("%s\n\nYour verification code is %s. It expires in 15 minutes.\n\n"+
			"If you did not create a Spacemint AI account you can ignore this email.\n", greeting(name), code),
	})
}

func (e *EmailService) SendPasswordResetEmail(ctx context.Context, to, name, resetURL string) error {
	return e.sender.Send(ctx, mailer.Message{
		To:      to,
		Subject: "Reset your Spacemint AI password",
		Body: fmt.Sprintf("%s\n\nUse the link below to choose a new password. It expires in one hour.\n\n%s\n",
			greeting(name), resetURL),
	})
}

func (e *EmailService) SendWelcomeEmail(ctx context.Context, to, name string) error {
	return e.sender.Send(ctx, mailer.Message{
		To:      to,
		Subject: "Welcome to Spacemint AI",
		Body: fmt.Sprintf("%s\n\nYour email is verified. You have free credits to stage your first floor plans.\n",
			greeting(name)),
	})
}
