package mail

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendDisabled(t *testing.T) {
	m, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = m.Send(context.Background(), Message{To: []string{"a@example.com"}})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.Error(t, err)

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.Error(t, err)
}

func TestSendBuildsPayload(t *testing.T) {
	m, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "noreply@atelier.dev",
	})
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotPayload []byte
	m.(*smtpMailer).send = func(addr string, _ smtp.Auth, from string, to []string, payload []byte) error {
		gotAddr, gotFrom, gotTo, gotPayload = addr, from, to, payload
		return nil
	}

	err = m.Send(context.Background(), Message{
		To:      []string{"bob@example.com", "bob@example.com", " "},
		Subject: "Invite\r\nInjected",
		Body:    "hello",
	})
	require.NoError(t, err)
	require.Equal(t, "smtp.example.com:587", gotAddr)
	require.Equal(t, "noreply@atelier.dev", gotFrom)
	require.Equal(t, []string{"bob@example.com"}, gotTo)
	require.Contains(t, string(gotPayload), "Subject: Invite Injected")
	require.Contains(t, string(gotPayload), "hello")
}

func TestSendRejectsInvalidAddresses(t *testing.T) {
	m, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "noreply@atelier.dev",
	})
	require.NoError(t, err)

	err = m.Send(context.Background(), Message{To: []string{"not-an-address"}})
	require.Error(t, err)

	err = m.Send(context.Background(), Message{To: nil})
	require.Error(t, err)
}
