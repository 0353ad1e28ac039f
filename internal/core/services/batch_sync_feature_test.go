package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven/mocks"
)

func TestBatchSyncFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "batch-sync",
		ScenarioInitializer: initializeBatchSyncScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("batch sync feature scenarios failed")
	}
}

// batchSyncWorld is the per-scenario state.
type batchSyncWorld struct {
	info       domain.ProviderInfo
	adapter    *mocks.MockProviderAdapter
	dispatcher *mocks.MockWebhookDispatcher
	syncs      *mocks.MockSyncProgressStore
	workers    int
	orch       *Orchestrator

	progress *domain.SyncProgress
	final    *domain.SyncProgress
	startErr error
}

func initializeBatchSyncScenario(sc *godog.ScenarioContext) {
	w := &batchSyncWorld{}

	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if w.orch != nil {
			_ = w.orch.Shutdown(context.Background())
		}
		return ctx, err
	})

	sc.Step(`^a seller connected to printful$`, w.sellerConnected)
	sc.Step(`^the provider rejects products "([^"]*)"$`, w.providerRejects)
	sc.Step(`^the provider token is revoked at product "([^"]*)"$`, w.tokenRevokedAt)
	sc.Step(`^the provider does not support products$`, w.productsUnsupported)
	sc.Step(`^the sync runs one item at a time$`, w.oneWorker)
	sc.Step(`^the seller imports (\d+) products$`, w.importProducts)
	sc.Step(`^the sync finishes$`, w.syncFinishes)
	sc.Step(`^the sync status is "([^"]*)"$`, w.statusIs)
	sc.Step(`^(\d+) items are processed with (\d+) succeeded and (\d+) failed$`, w.countsAre)
	sc.Step(`^the failed items are "([^"]*)"$`, w.failedItemsAre)
	sc.Step(`^a "([^"]*)" webhook is dispatched$`, w.webhookDispatched)
	sc.Step(`^the request is rejected as unsupported$`, w.rejectedUnsupported)
}

func (w *batchSyncWorld) sellerConnected() error {
	w.info = testProviderInfo()
	w.adapter = mocks.NewMockProviderAdapter(domain.ProviderPrintful)
	w.dispatcher = &mocks.MockWebhookDispatcher{}
	w.syncs = mocks.NewMockSyncProgressStore()
	w.workers = 4
	return nil
}

func (w *batchSyncWorld) providerRejects(list string) error {
	rejected := splitList(list)
	w.adapter.CreateProductFn = func(ctx context.Context, p *domain.Product) (string, error) {
		if rejected[p.SKU] {
			return "", &domain.ProviderError{Provider: domain.ProviderPrintful, StatusCode: 422, Message: "invalid variant"}
		}
		return "P-" + p.SKU, nil
	}
	return nil
}

func (w *batchSyncWorld) tokenRevokedAt(sku string) error {
	w.adapter.CreateProductFn = func(ctx context.Context, p *domain.Product) (string, error) {
		if p.SKU == sku {
			return "", fmt.Errorf("refresh: %w", domain.ErrReauthRequired)
		}
		return "P-" + p.SKU, nil
	}
	return nil
}

func (w *batchSyncWorld) productsUnsupported() error {
	w.info = testProviderInfo(domain.CapabilityOrders, domain.CapabilityInventory)
	return nil
}

func (w *batchSyncWorld) oneWorker() error {
	w.workers = 1
	return nil
}

func (w *batchSyncWorld) importProducts(n int) error {
	resolver := mocks.NewMockAdapterResolver()
	resolver.Register(w.info, w.adapter)
	w.orch = NewOrchestrator(OrchestratorConfig{
		Resolver:     resolver,
		Fulfillments: mocks.NewMockFulfillmentStore(),
		Syncs:        w.syncs,
		Limiter:      mocks.NewMockRateLimiter(),
		Dispatcher:   w.dispatcher,
		SyncWorkers:  w.workers,
	})

	w.progress, w.startErr = w.orch.StartBatchSync(context.Background(), domain.BatchSyncRequest{
		SellerID: testKey.SellerID,
		Provider: domain.ProviderPrintful,
		Kind:     domain.SyncKindProductImport,
		Items:    importItems(n),
	})
	return nil
}

func (w *batchSyncWorld) syncFinishes() error {
	if w.startErr != nil {
		return fmt.Errorf("sync was not started: %w", w.startErr)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.orch.Shutdown(ctx); err != nil {
		return err
	}
	final, err := w.orch.GetSyncProgress(context.Background(), testKey.SellerID, w.progress.ID)
	if err != nil {
		return err
	}
	w.final = final
	return nil
}

func (w *batchSyncWorld) statusIs(status string) error {
	if got := string(w.final.Status); got != status {
		return fmt.Errorf("expected status %q, got %q (error %q)", status, got, w.final.Error)
	}
	return nil
}

func (w *batchSyncWorld) countsAre(processed, succeeded, failed int) error {
	f := w.final
	if f.Processed != processed || f.Succeeded != succeeded || f.Failed != failed {
		return fmt.Errorf("expected %d/%d/%d processed/succeeded/failed, got %d/%d/%d",
			processed, succeeded, failed, f.Processed, f.Succeeded, f.Failed)
	}
	return nil
}

func (w *batchSyncWorld) failedItemsAre(list string) error {
	var got []string
	for _, e := range w.final.Errors {
		got = append(got, e.ItemID)
	}
	sort.Strings(got)

	var want []string
	for id := range splitList(list) {
		want = append(want, id)
	}
	sort.Strings(want)

	if strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("expected failed items %v, got %v", want, got)
	}
	if !errors.Is(w.final.Err(), domain.ErrPartialFailure) {
		return fmt.Errorf("expected a partial failure error, got %v", w.final.Err())
	}
	return nil
}

func (w *batchSyncWorld) webhookDispatched(event string) error {
	if n := w.dispatcher.Count(domain.EventType(event)); n != 1 {
		return fmt.Errorf("expected one %s webhook, got %d", event, n)
	}
	return nil
}

func (w *batchSyncWorld) rejectedUnsupported() error {
	if !errors.Is(w.startErr, domain.ErrCapabilityUnsupported) {
		return fmt.Errorf("expected capability error, got %v", w.startErr)
	}
	if n := w.adapter.ProductCalls.Load(); n != 0 {
		return fmt.Errorf("expected no provider calls, got %d", n)
	}
	return nil
}

func splitList(list string) map[string]bool {
	out := make(map[string]bool)
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = true
		}
	}
	return out
}
