package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

type IEmailService interface {
	SendSaveFailureAlert(sessionTitle, reason string) error
}

type emailService struct {
	dialer      *gomail.Dialer
	senderEmail string
	opsEmail    string
}

func NewEmailService(host string, port int, username, password, senderEmail, opsEmail string) IEmailService {
	d := gomail.NewDialer(host, port, username, password)

	return &emailService{
		dialer:      d,
		senderEmail: senderEmail,
		opsEmail:    opsEmail,
	}
}

// SendSaveFailureAlert notifies the on-call inbox when a finished answer
// could not be written to the database. The stream already ended for the
// client at that point, so email is the only channel left.
func (s *emailService) SendSaveFailureAlert(sessionTitle, reason string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.senderEmail)
	m.SetHeader("To", s.opsEmail)
	m.SetHeader("Subject", "[knowledge-qa] Session save failed")

	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>QA session persistence failure</h2>
			<p>A completed answer could not be saved and is lost unless recovered from logs.</p>
			<p><b>Title:</b> %s</p>
			<p><b>Reason:</b> %s</p>
		</div>
	`, sessionTitle, reason)

	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		fmt.Printf("[MAILER ERROR] Failed to send save failure alert: %v\n", err)
		return err
	}

	fmt.Printf("[MAILER] Save failure alert sent to %s\n", s.opsEmail)
	return nil
}
