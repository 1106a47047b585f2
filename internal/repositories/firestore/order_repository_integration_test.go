//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/iterator"

	"github.com/orchardlane/storefront/internal/domain"
	pconfig "github.com/orchardlane/storefront/internal/platform/config"
	pfirestore "github.com/orchardlane/storefront/internal/platform/firestore"
	"github.com/orchardlane/storefront/internal/repositories"
)

func TestOrderRepositoryCommitIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "orders-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo := NewOrderRepository(provider)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	seedVariant := func(id string, stock int64) {
		t.Helper()
		doc := variantDocument{
			ProductID: "prod_shirt",
			Key:       strings.ToUpper(strings.TrimPrefix(id, "var_")),
			Price:     1000,
			Stock:     stock,
			Active:    true,
		}
		if _, err := client.Collection(variantCollection).Doc(id).Set(ctx, doc); err != nil {
			t.Fatalf("seed variant %s: %v", id, err)
		}
	}
	seedVariant("var_m", 10)
	seedVariant("var_l", 2)

	variantStock := func(id string) int64 {
		t.Helper()
		snap, err := client.Collection(variantCollection).Doc(id).Get(ctx)
		if err != nil {
			t.Fatalf("read variant %s: %v", id, err)
		}
		var doc variantDocument
		if err := snap.DataTo(&doc); err != nil {
			t.Fatalf("decode variant %s: %v", id, err)
		}
		return doc.Stock
	}

	orderCount := func() int {
		t.Helper()
		iter := client.Collection(orderCollection).Documents(ctx)
		defer iter.Stop()
		count := 0
		for {
			_, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				t.Fatalf("iterate orders: %v", err)
			}
			count++
		}
		return count
	}

	newOrder := func(id string, lines map[string]int64) domain.Order {
		order := domain.Order{
			ID:            id,
			Number:        "OL-2026-000001",
			UserID:        "user_1",
			Status:        domain.OrderStatusPending,
			PaymentStatus: domain.PaymentStatusPending,
			PaymentMethod: domain.PaymentMethodCOD,
			Currency:      "INR",
		}
		for variantID, qty := range lines {
			order.Items = append(order.Items, domain.OrderItem{
				ID:              "item_" + variantID,
				ProductID:       "prod_shirt",
				VariantID:       variantID,
				Name:            "Linen Shirt",
				PriceAtPurchase: 1000,
				Quantity:        qty,
				LineTotal:       1000 * qty,
			})
			order.Subtotal += 1000 * qty
		}
		order.TotalAmount = order.Subtotal
		return order
	}

	// A shortfall on any line must leave zero order documents and all stock
	// untouched, including lines that individually had enough.
	_, err = repo.Commit(ctx, repositories.OrderCommitRequest{
		Order: newOrder("ord_fail", map[string]int64{"var_m": 2, "var_l": 5}),
		Now:   now,
	})
	if err == nil {
		t.Fatalf("expected insufficient stock error")
	}
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected stock error, got %T %v", err, err)
	}
	if stockErr.Code != repositories.StockErrorInsufficient || stockErr.VariantID != "var_l" {
		t.Fatalf("unexpected stock error: %+v", stockErr)
	}
	if stockErr.Available != 2 {
		t.Fatalf("expected available 2, got %d", stockErr.Available)
	}
	if got := orderCount(); got != 0 {
		t.Fatalf("expected zero order documents after abort, got %d", got)
	}
	if got := variantStock("var_m"); got != 10 {
		t.Fatalf("var_m stock changed after abort: %d", got)
	}
	if got := variantStock("var_l"); got != 2 {
		t.Fatalf("var_l stock changed after abort: %d", got)
	}

	// The same lines at feasible quantities commit the order and decrement
	// every variant together.
	committed, err := repo.Commit(ctx, repositories.OrderCommitRequest{
		Order: newOrder("ord_ok", map[string]int64{"var_m": 2, "var_l": 2}),
		Now:   now,
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := orderCount(); got != 1 {
		t.Fatalf("expected one order document, got %d", got)
	}
	if got := variantStock("var_m"); got != 8 {
		t.Fatalf("var_m stock = %d, want 8", got)
	}
	if got := variantStock("var_l"); got != 0 {
		t.Fatalf("var_l stock = %d, want 0", got)
	}

	fetched, err := repo.Get(ctx, committed.ID)
	if err != nil {
		t.Fatalf("get committed order: %v", err)
	}
	if fetched.Number != "OL-2026-000001" || fetched.TotalAmount != 4000 {
		t.Fatalf("unexpected committed order: %+v", fetched)
	}

	// A repeat of the sold-out line fails even at quantity one.
	_, err = repo.Commit(ctx, repositories.OrderCommitRequest{
		Order: newOrder("ord_again", map[string]int64{"var_l": 1}),
		Now:   now.Add(time.Second),
	})
	if !errors.As(err, &stockErr) || stockErr.Available != 0 {
		t.Fatalf("expected sold-out stock error, got %v", err)
	}

	// A second committed order makes the history two documents deep, which
	// lets the cursor walk both pages.
	if _, err := repo.Commit(ctx, repositories.OrderCommitRequest{
		Order: newOrder("ord_later", map[string]int64{"var_m": 1}),
		Now:   now.Add(2 * time.Second),
	}); err != nil {
		t.Fatalf("commit second order: %v", err)
	}

	first, err := repo.ListByUser(ctx, "user_1", domain.Pagination{PageSize: 1})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(first.Items) != 1 || first.Items[0].ID != "ord_later" {
		t.Fatalf("unexpected first page: %+v", first.Items)
	}
	if first.NextPageToken == "" {
		t.Fatalf("expected next page token")
	}

	second, err := repo.ListByUser(ctx, "user_1", domain.Pagination{PageSize: 1, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "ord_ok" {
		t.Fatalf("unexpected second page: %+v", second.Items)
	}
	if second.NextPageToken != "" {
		t.Fatalf("expected exhausted cursor, got token %q", second.NextPageToken)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
