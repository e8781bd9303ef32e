// internal/agents/refill/notifier.go
package refill

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/models"
	"pharmacy-agents/internal/store"
)

// SESService is the send subset of the SES client, split out for
// mocking.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SuggestionSender surfaces a due refill suggestion to the patient.
type SuggestionSender interface {
	Send(ctx context.Context, patient models.Patient, sched models.RefillSchedule, medicationName string) error
}

// SESSender emails refill suggestions through SES.
type SESSender struct {
	client    SESService
	fromEmail string
	refills   *store.RefillStore
	logger    logger.Logger
}

func NewSESSender(client SESService, fromEmail string, refills *store.RefillStore, log logger.Logger) *SESSender {
	return &SESSender{
		client:    client,
		fromEmail: fromEmail,
		refills:   refills,
		logger:    log.WithFields(map[string]interface{}{"component": "refill-sender"}),
	}
}

// Send emails the suggestion and marks the schedule sent. A patient
// with no email on file leaves the suggestion pending for the refill
// listing surface to pick up.
func (s *SESSender) Send(ctx context.Context, patient models.Patient, sched models.RefillSchedule, medicationName string) error {
	if patient.Email == "" {
		s.logger.Warn("patient has no email, suggestion stays pending", map[string]interface{}{
			"patientId":    patient.ID,
			"medicationId": sched.MedicationID,
		})
		return nil
	}

	subject := "Time to refill your " + medicationName
	body := fmt.Sprintf(
		"Hi %s,\n\nOur records suggest your supply of %s will run out around %s. "+
			"Reply to this conversation or visit the pharmacy to order a refill.\n",
		patient.Name, medicationName, sched.DepletionDate.Format("January 2, 2006"),
	)

	_, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(s.fromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{patient.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	})
	if err != nil {
		return stderrors.NewSuggestionSendFailedError(sched.Key(), err)
	}

	return s.refills.SetStatus(ctx, sched.PatientID, sched.MedicationID, models.SuggestionSent)
}

// LogSender stands in when SES is disabled; suggestions are marked sent
// so the tolerance gate still applies.
type LogSender struct {
	refills *store.RefillStore
	logger  logger.Logger
}

func NewLogSender(refills *store.RefillStore, log logger.Logger) *LogSender {
	return &LogSender{refills: refills, logger: log}
}

func (s *LogSender) Send(ctx context.Context, patient models.Patient, sched models.RefillSchedule, medicationName string) error {
	s.logger.Info("refill suggestion due", map[string]interface{}{
		"patientId":     patient.ID,
		"medication":    medicationName,
		"depletionDate": sched.DepletionDate.Format("2006-01-02"),
	})
	return s.refills.SetStatus(ctx, sched.PatientID, sched.MedicationID, models.SuggestionSent)
}
