package events

import (
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"stonebeam/models"
)

const (
	QuotationSubmittedTopic = "quotation.submitted"
	QuotationDecidedTopic   = "quotation.decided"
)

type QuotationSubmittedEvent struct {
	QuotationID    string               `json:"quotation_id"`
	ProjectID      string               `json:"project_id"`
	DealerID       string               `json:"dealer_id"`
	Total          float64              `json:"total"`
	ProjectStatus  models.ProjectStatus `json:"project_status"`
	QuotesReceived int                  `json:"quotes_received"`
	SubmittedAt    time.Time            `json:"submitted_at"`
	EventTime      time.Time            `json:"event_time"`
}

type QuotationDecidedEvent struct {
	QuotationID   string                 `json:"quotation_id"`
	ProjectID     string                 `json:"project_id"`
	Decision      models.QuotationStatus `json:"decision"`
	ProjectStatus models.ProjectStatus   `json:"project_status"`
	DecidedAt     time.Time              `json:"decided_at"`
	EventTime     time.Time              `json:"event_time"`
}

// Publisher сообщает о закоммиченных изменениях предложений
type Publisher interface {
	PublishQuotationSubmitted(q *models.Quotation, p *models.Project) error
	PublishQuotationDecided(q *models.Quotation, p *models.Project) error
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
	now      func() time.Time
}

func NewKafkaProducer(brokers []string, logger *logrus.Logger) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return newKafkaProducer(producer, logger), nil
}

func newKafkaProducer(producer sarama.SyncProducer, logger *logrus.Logger) *KafkaProducer {
	return &KafkaProducer{producer: producer, logger: logger, now: time.Now}
}

func (p *KafkaProducer) PublishQuotationSubmitted(q *models.Quotation, project *models.Project) error {
	return p.send(QuotationSubmittedTopic, q.ProjectID, QuotationSubmittedEvent{
		QuotationID:    q.ID,
		ProjectID:      q.ProjectID,
		DealerID:       q.SubmittedBy,
		Total:          q.Total,
		ProjectStatus:  project.Status,
		QuotesReceived: project.QuotesReceived,
		SubmittedAt:    q.SubmittedAt,
		EventTime:      p.now(),
	})
}

func (p *KafkaProducer) PublishQuotationDecided(q *models.Quotation, project *models.Project) error {
	event := QuotationDecidedEvent{
		QuotationID:   q.ID,
		ProjectID:     q.ProjectID,
		Decision:      q.Status,
		ProjectStatus: project.Status,
		EventTime:     p.now(),
	}
	if q.DecidedAt != nil {
		event.DecidedAt = *q.DecidedAt
	}
	return p.send(QuotationDecidedTopic, q.ProjectID, event)
}

// ключ сообщения - id проекта, события одного проекта идут по порядку
func (p *KafkaProducer) send(topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("Failed to send message to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":      topic,
		"partition":  partition,
		"offset":     offset,
		"project_id": key,
	}).Info("Event published to Kafka")
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}

// NopPublisher используется, когда брокеры не заданы
type NopPublisher struct{}

func (NopPublisher) PublishQuotationSubmitted(*models.Quotation, *models.Project) error { return nil }
func (NopPublisher) PublishQuotationDecided(*models.Quotation, *models.Project) error  { return nil }
