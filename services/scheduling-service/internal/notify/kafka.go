package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/careloop/crm-scheduling/libs/kafkax"
	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/model"
)

const reminderDispatchedTopic = "scheduling.reminder.dispatched.v1"

// KafkaSender publishes a reminder-dispatched event per appointment; a
// downstream notification service owns actual delivery.
type KafkaSender struct {
	writer *kafka.Writer
}

func NewKafkaSender(brokers string) (*KafkaSender, error) {
	list := kafkax.SplitBrokers(brokers)
	if len(list) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  list,
		Topic:    reminderDispatchedTopic,
		Balancer: &kafka.Hash{},
	})
	return &KafkaSender{writer: writer}, nil
}

func (s *KafkaSender) ProviderID() string {
	return "notify-kafka"
}

func (s *KafkaSender) Send(ctx context.Context, appt model.Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"title":          appt.Title,
		"subject_name":   appt.SubjectName,
		"date":           appt.Date.UTC().Format("2006-01-02"),
		"start_minutes":  appt.StartMinutes,
		"dispatched_at":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(appt.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event_type", Value: []byte(reminderDispatchedTopic)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	return s.writer.WriteMessages(ctx, msg)
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
