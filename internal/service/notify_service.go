package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"parkease/internal/db"
	"parkease/internal/repository"
)

// Notifier is the fire-and-forget notification sink invoked after settlement
// and cancellation. Delivery is best-effort: correctness never depends on it.
type Notifier interface {
	ReservationConfirmed(res db.Reservation, payment db.Payment)
	ReservationCancelled(res db.Reservation)
}

// NoopNotifier is used in tests and when no sender credentials are set.
type NoopNotifier struct{}

func (NoopNotifier) ReservationConfirmed(db.Reservation, db.Payment) {}
func (NoopNotifier) ReservationCancelled(db.Reservation)             {}

// NotifyService sends reservation emails via SendGrid and SMS via Twilio.
type NotifyService struct {
	store repository.Store
	log   *zap.SugaredLogger
}

func NewNotifyService(store repository.Store, log *zap.SugaredLogger) *NotifyService {
	return &NotifyService{store: store, log: log}
}

func (n *NotifyService) ReservationConfirmed(res db.Reservation, payment db.Payment) {
	driver, err := n.driver(res)
	if err != nil {
		n.log.Errorw("notify: could not resolve driver", "reservation", res.Code, "error", err)
		return
	}
	subject := fmt.Sprintf("Your ParkEase reservation is confirmed - Code: %s", res.Code)
	body := fmt.Sprintf(
		"Hello %s,\n\nYour reservation at ParkEase is confirmed.\n\n"+
			"Reservation Code: %s\n"+
			"Vehicle: %s\n"+
			"Check-in: %s\n"+
			"Check-out: %s\n"+
			"Amount charged: %.2f\n\n"+
			"Thank you for choosing ParkEase.",
		driver.Name, res.Code, res.VehicleNo,
		res.StartTime.Format("02 Jan 2006 15:04 MST"),
		res.EndTime.Format("02 Jan 2006 15:04 MST"),
		float64(payment.TotalCents)/100,
	)
	sms := fmt.Sprintf("ParkEase: reservation %s confirmed! Check-in: %s. More details in your email.",
		res.Code, res.StartTime.Format("02/01 15:04"))
	n.send(driver, res.Code, subject, body, sms)
}

func (n *NotifyService) ReservationCancelled(res db.Reservation) {
	driver, err := n.driver(res)
	if err != nil {
		n.log.Errorw("notify: could not resolve driver", "reservation", res.Code, "error", err)
		return
	}
	subject := fmt.Sprintf("Your ParkEase reservation was cancelled - Code: %s", res.Code)
	body := fmt.Sprintf(
		"Hello %s,\n\nYour reservation %s has been cancelled and the slot released.",
		driver.Name, res.Code)
	sms := fmt.Sprintf("ParkEase: reservation %s has been cancelled.", res.Code)
	n.send(driver, res.Code, subject, body, sms)
}

func (n *NotifyService) driver(res db.Reservation) (*db.Account, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return n.store.AccountByID(ctx, res.DriverID)
}

func (n *NotifyService) send(driver *db.Account, code, subject, body, sms string) {
	if driver.Email != "" {
		if err := sendEmailWithSendGrid(driver.Email, driver.Name, subject, body); err != nil {
			n.log.Errorw("notify: email delivery failed", "reservation", code, "error", err)
		}
	}
	if driver.Phone != "" {
		if err := sendSMS(driver.Phone, sms); err != nil {
			n.log.Errorw("notify: sms delivery failed", "reservation", code, "error", err)
		}
	}
}

func sendEmailWithSendGrid(toEmail, toName, subject, body string) error {
	apiKey := os.Getenv("SENDGRID_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("SENDGRID_API_KEY not set")
	}
	from := mail.NewEmail("ParkEase", os.Getenv("SENDGRID_FROM_EMAIL"))
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, body, "")
	client := sendgrid.NewSendClient(apiKey)
	resp, err := client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}
	return nil
}

func sendSMS(to, message string) error {
	accountSid := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	from := os.Getenv("TWILIO_FROM_NUMBER")
	if accountSid == "" || authToken == "" {
		return fmt.Errorf("twilio credentials not set")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(message)

	_, err := client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	return nil
}
