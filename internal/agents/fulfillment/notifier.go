// internal/agents/fulfillment/notifier.go
package fulfillment

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/models"
)

// SNSService is the publish subset of the SNS client, split out for
// mocking.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// WarehouseNotifier delivers one-way order messages to the warehouse
// system. Delivery is at-least-once; the warehouse deduplicates on
// order id.
type WarehouseNotifier interface {
	Notify(ctx context.Context, order *models.FulfillmentOrder) error
}

// warehouseMessage is the wire form of a warehouse notification.
type warehouseMessage struct {
	OrderID   string             `json:"orderId"`
	PatientID string             `json:"patientId"`
	Lines     []models.OrderLine `json:"lines"`
}

// SNSNotifier publishes warehouse messages to an SNS topic.
type SNSNotifier struct {
	client   SNSService
	topicARN string
}

func NewSNSNotifier(client SNSService, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

func (n *SNSNotifier) Notify(ctx context.Context, order *models.FulfillmentOrder) error {
	msg, err := json.Marshal(warehouseMessage{
		OrderID:   order.ID,
		PatientID: order.PatientID,
		Lines:     order.Lines,
	})
	if err != nil {
		return stderrors.NewWarehousePublishFailedError(order.ID, err)
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Message:  aws.String(string(msg)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"orderId": {
				DataType:    aws.String("String"),
				StringValue: aws.String(order.ID),
			},
		},
	})
	if err != nil {
		return stderrors.NewWarehousePublishFailedError(order.ID, err)
	}
	return nil
}

// NoopNotifier stands in when SNS is disabled (local development).
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, *models.FulfillmentOrder) error { return nil }
