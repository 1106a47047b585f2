package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/orchardlane/storefront/internal/services"
)

func TestPubSubReconciliationPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-reconciliation")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	topic.EnableMessageOrdering = true

	publisher, err := NewPubSubReconciliationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubReconciliationPublisher: %v", err)
	}

	msg := services.PaymentReconciliationMessage{
		GatewayOrderID: "order_rzp_123",
		Provider:       "razorpay",
		UserID:         "user-1",
		Amount:         1849,
		Currency:       "INR",
		Reason:         "commit_failed",
	}

	if _, err := publisher.PublishReconciliation(ctx, msg); err != nil {
		t.Fatalf("PublishReconciliation: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.PaymentReconciliationMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.GatewayOrderID != msg.GatewayOrderID || payload.Reason != msg.Reason {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["gatewayOrderId"]; attr != "order_rzp_123" {
		t.Fatalf("expected gateway order id attribute, got %q", attr)
	}
}
