package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shand-j/tagforge/internal/ledger"
	"github.com/shand-j/tagforge/internal/llm"
	"github.com/shand-j/tagforge/internal/model"
	"github.com/shand-j/tagforge/internal/schema"
)

const pipelineSchema = `
dimensions:
  category:
    tags: [e-liquid, disposable, pod_system, device, tank, coil, pod, CBD, nicotine_pouches, accessory]
  nicotine_strength:
    tags: []
    applies_to: [e-liquid, disposable, pod, nicotine_pouches]
  cbd_strength:
    tags: []
    applies_to: [CBD]
  nicotine_type:
    tags: [nic_salt, freebase, nicotine_free]
    applies_to: [e-liquid, disposable, pod, nicotine_pouches]
  cbd_form:
    tags: [tincture, oil, capsule, gummy, topical, vape]
    applies_to: [CBD]
  cbd_type:
    tags: [full_spectrum, broad_spectrum, isolate, cbg, cbda]
    applies_to: [CBD]
  vg_ratio:
    tags: [50/50, 60/40, 70/30, 80/20, 100/0]
    applies_to: [e-liquid]
  bottle_size:
    tags: []
    applies_to: [e-liquid, CBD]
  capacity:
    tags: []
    applies_to: [disposable, pod, pod_system, device, tank]
  flavor_profile:
    tags: [fruity, ice, tobacco, desserts/bakery, beverages, candy/sweets, nuts, unflavoured]
    applies_to: [e-liquid, disposable, CBD, nicotine_pouches]
  vaping_style:
    tags: [mouth-to-lung, restricted-direct-to-lung, direct-to-lung]
    applies_to: [e-liquid, disposable, pod_system, device]
  liquid_features:
    tags: [shortfill, nic_shot]
    applies_to: [e-liquid]
rules:
  - dimension: nicotine_strength
    unit: mg
    min: 0
    max: 20
    legal: [0, 3, 6, 10, 12, 18, 20]
  - dimension: cbd_strength
    unit: mg
    min: 0
    max: 50000
  - dimension: bottle_size
    unit: ml
    min: 10
    max: 500
  - dimension: capacity
    unit: ml
    min: 0.5
    max: 50
required:
  CBD: [cbd_strength, cbd_form, cbd_type]
`

func pipelineTestSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(pipelineSchema))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return s
}

// fakeProvider answers prompts by substring marker
type fakeProvider struct {
	responses map[string]string
	calls     int64
}

func (f *fakeProvider) Name() string                       { return "fake" }
func (f *fakeProvider) IsAvailable(_ context.Context) bool { return true }

func (f *fakeProvider) Generate(_ context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	atomic.AddInt64(&f.calls, 1)
	for marker, text := range f.responses {
		if strings.Contains(req.Prompt, marker) {
			return &llm.GenerateResponse{Text: text, Model: "fake-model"}, nil
		}
	}
	return &llm.GenerateResponse{Text: "unknown", Model: "fake-model"}, nil
}

func testConfig(t *testing.T) *model.Config {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.Cache.Enabled = false
	cfg.Concurrency.Workers = 2
	cfg.Concurrency.RequestsPerSecond = 1000
	return cfg
}

func openTestLedger(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "audit.sqlite3"))
	if err != nil {
		t.Fatalf("ledger.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

func TestTagProductCleanELiquid(t *testing.T) {
	cfg := testConfig(t)
	p := NewWithProvider(cfg, pipelineTestSchema(t), nil, nil)

	prod := &model.Product{
		Handle:      "strawberry-banana-ice",
		Title:       "Strawberry Banana Ice 50ml",
		Description: "A fruity e-liquid with 0mg nicotine and a 70VG/30PG blend.",
	}
	res := p.TagProduct(context.Background(), prod)

	if res.Tier != model.TierClean {
		t.Fatalf("tier = %s (reasons %v), want clean", res.Tier, res.FailureReasons)
	}
	if res.Category.Category != "e-liquid" {
		t.Errorf("category = %q, want e-liquid", res.Category.Category)
	}
	for _, want := range []string{"e-liquid", "0mg", "50ml", "70/30", "fruity", "ice"} {
		if !hasTag(res.FinalTags, want) {
			t.Errorf("final tags %v missing %q", res.FinalTags, want)
		}
	}
	if !hasTag(res.SecondaryFlavors, "strawberry") || !hasTag(res.SecondaryFlavors, "banana") {
		t.Errorf("secondary flavors = %v, want strawberry and banana", res.SecondaryFlavors)
	}
	if res.State != model.StateValidated {
		t.Errorf("state = %s, want validated", res.State)
	}
	if len(res.AITags) != 0 || res.ModelUsed != "" {
		t.Error("valid rule result should never touch the model")
	}
}

func TestTagProductIllegalNicotineGoesToReview(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.EscalationEnabled = false
	p := NewWithProvider(cfg, pipelineTestSchema(t), nil, nil)

	prod := &model.Product{
		Handle: "extra-strong",
		Title:  "Extra Strong E-liquid 25mg 50ml",
	}
	res := p.TagProduct(context.Background(), prod)

	if res.Tier != model.TierReview {
		t.Fatalf("tier = %s, want review", res.Tier)
	}
	found := false
	for _, reason := range res.FailureReasons {
		if strings.Contains(reason, "illegal value") {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons %v should flag the illegal value", res.FailureReasons)
	}
	for _, tag := range res.FinalTags {
		if tag == "20mg" || tag == "18mg" {
			t.Errorf("a legal strength %q was silently substituted", tag)
		}
	}
}

func TestTagProductOutOfRangeCBDGoesToUntagged(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.EscalationEnabled = false
	p := NewWithProvider(cfg, pipelineTestSchema(t), nil, nil)

	prod := &model.Product{Handle: "cbd-syrup", Title: "CBD syrup 60000mg"}
	res := p.TagProduct(context.Background(), prod)

	if res.Tier != model.TierUntagged {
		t.Fatalf("tier = %s (final %v), want untagged", res.Tier, res.FinalTags)
	}
	if hasTag(res.FinalTags, "60000mg") {
		t.Error("out-of-range strength must not appear in final tags")
	}
}

func TestTagProductNoCategoryNoProvider(t *testing.T) {
	cfg := testConfig(t)
	p := NewWithProvider(cfg, pipelineTestSchema(t), nil, nil)

	prod := &model.Product{Handle: "mystery", Title: "Gift Voucher"}
	res := p.TagProduct(context.Background(), prod)

	if res.Tier != model.TierUntagged {
		t.Fatalf("tier = %s, want untagged", res.Tier)
	}
	if len(res.FinalTags) != 0 {
		t.Errorf("final tags = %v, want none", res.FinalTags)
	}
}

func TestTagProductEscalationResolvesCBDType(t *testing.T) {
	cfg := testConfig(t)
	provider := &fakeProvider{responses: map[string]string{
		"cbd_type tag value": "full_spectrum\nconfidence: 0.9",
	}}
	p := NewWithProvider(cfg, pipelineTestSchema(t), nil, provider)

	prod := &model.Product{
		Handle: "cbd-gummies",
		Title:  "1000mg Full Power CBD Gummies",
	}
	res := p.TagProduct(context.Background(), prod)

	if res.Tier != model.TierClean {
		t.Fatalf("tier = %s (reasons %v), want clean after escalation", res.Tier, res.FailureReasons)
	}
	for _, want := range []string{"CBD", "1000mg", "gummy", "full_spectrum"} {
		if !hasTag(res.FinalTags, want) {
			t.Errorf("final tags %v missing %q", res.FinalTags, want)
		}
	}
	if !hasTag(res.AITags, "full_spectrum") {
		t.Errorf("ai tags = %v, want full_spectrum", res.AITags)
	}
	if res.Confidence != 0.9 || res.ModelUsed != "fake-model" {
		t.Errorf("confidence/model = %v/%s", res.Confidence, res.ModelUsed)
	}
	if res.State != model.StateValidated {
		t.Errorf("state = %s, want validated", res.State)
	}
}

func TestTagProductEscalationResolvesCategory(t *testing.T) {
	cfg := testConfig(t)
	provider := &fakeProvider{responses: map[string]string{
		"determine its category": "e-liquid\nconfidence: 0.9",
	}}
	p := NewWithProvider(cfg, pipelineTestSchema(t), nil, provider)

	// No category keyword anywhere, but the text carries extractable
	// attributes once the model names the category
	prod := &model.Product{
		Handle:      "blue-razz",
		Title:       "Blue Razz 10ml 20mg",
		Description: "Smooth blue raspberry.",
	}
	res := p.TagProduct(context.Background(), prod)

	if res.Category.Category != "e-liquid" {
		t.Fatalf("category = %q, want e-liquid from escalation", res.Category.Category)
	}
	if res.Category.Forced {
		t.Error("model-resolved category must not be marked forced")
	}
	for _, want := range []string{"e-liquid", "20mg", "10ml"} {
		if !hasTag(res.FinalTags, want) {
			t.Errorf("final tags %v missing %q (extractors should re-run)", res.FinalTags, want)
		}
	}
}

func TestRunBatchPersistsTiers(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.EscalationEnabled = false
	store := openTestLedger(t)
	p := NewWithProvider(cfg, pipelineTestSchema(t), store, nil)

	products := []model.Product{
		{Handle: "c-clean", Title: "Menthol E-liquid 10ml 3mg"},
		{Handle: "a-review", Title: "Extra Strong E-liquid 25mg 50ml"},
		{Handle: "b-untagged", Title: "Gift Voucher"},
	}

	summary, results, err := p.Run(ctx, products, "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total != 3 || summary.Clean != 1 || summary.Review != 1 || summary.Untagged != 1 {
		t.Errorf("summary = %+v", summary)
	}

	// Results come back sorted by handle regardless of worker scheduling
	var handles []string
	for _, r := range results {
		handles = append(handles, r.Product.Handle)
	}
	if !reflect.DeepEqual(handles, []string{"a-review", "b-untagged", "c-clean"}) {
		t.Errorf("result order = %v", handles)
	}

	status, err := store.GetRunStatus(ctx, summary.RunID)
	if err != nil {
		t.Fatalf("GetRunStatus() error = %v", err)
	}
	if status != model.RunCompleted {
		t.Errorf("run status = %s, want completed", status)
	}
	clean, err := store.ProductsByTier(ctx, summary.RunID, model.TierClean)
	if err != nil {
		t.Fatalf("ProductsByTier() error = %v", err)
	}
	if len(clean) != 1 || clean[0].Handle != "c-clean" {
		t.Errorf("ledger clean tier = %+v", clean)
	}
}

func TestRunDeterminism(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.EscalationEnabled = false
	cfg.Concurrency.Workers = 4
	p := NewWithProvider(cfg, pipelineTestSchema(t), nil, nil)

	var products []model.Product
	for i := 0; i < 12; i++ {
		products = append(products, model.Product{
			Handle: fmt.Sprintf("eliq-%02d", i),
			Title:  fmt.Sprintf("Fruit Blast %d E-liquid 10ml 6mg", i),
		})
	}

	_, first, err := p.Run(ctx, products, "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	_, second, err := p.Run(ctx, products, "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("run sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Product.Handle != second[i].Product.Handle ||
			!reflect.DeepEqual(first[i].FinalTags, second[i].FinalTags) ||
			first[i].Tier != second[i].Tier {
			t.Errorf("run diverged at %s: %v vs %v", first[i].Product.Handle, first[i].FinalTags, second[i].FinalTags)
		}
	}
}

func TestRunLargeBatchSmallPool(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.EscalationEnabled = false
	cfg.Concurrency.Workers = 2
	p := NewWithProvider(cfg, pipelineTestSchema(t), nil, nil)

	// Far more products than the pool's channel buffers hold; the batch
	// must still drain completely.
	var products []model.Product
	for i := 0; i < 50; i++ {
		products = append(products, model.Product{
			Handle: fmt.Sprintf("eliq-%02d", i),
			Title:  fmt.Sprintf("Grape Soda %d E-liquid 10ml 6mg", i),
		})
	}

	done := make(chan struct{})
	var summary *Summary
	var results []model.TaggingResult
	var runErr error
	go func() {
		summary, results, runErr = p.Run(ctx, products, "")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not finish; batch wedged against the pool")
	}
	if runErr != nil {
		t.Fatalf("Run() error = %v", runErr)
	}
	if summary.Total != 50 || len(results) != 50 {
		t.Errorf("total/results = %d/%d, want 50/50", summary.Total, len(results))
	}
}

func TestRunResumeSkipsProcessed(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.EscalationEnabled = false
	store := openTestLedger(t)
	p := NewWithProvider(cfg, pipelineTestSchema(t), store, nil)

	snapshot := `{}`
	runID, err := store.StartRun(ctx, snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveProduct(ctx, model.AuditRecord{
		RunID: runID, Handle: "done", Title: "Menthol E-liquid 10ml", Tier: model.TierClean,
	}); err != nil {
		t.Fatal(err)
	}

	products := []model.Product{
		{Handle: "done", Title: "Menthol E-liquid 10ml"},
		{Handle: "todo", Title: "Berry E-liquid 10ml 3mg"},
	}
	summary, results, err := p.Run(ctx, products, runID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.RunID != runID {
		t.Errorf("run id = %s, want resumed %s", summary.RunID, runID)
	}
	if summary.Skipped != 1 || summary.Total != 2 {
		t.Errorf("summary = %+v, want 1 skipped of 2 total", summary)
	}

	// The skipped handle is hydrated from the ledger: every input product
	// appears in the output even when the run did no work for it.
	if len(results) != 2 {
		t.Fatalf("results = %d, want both products", len(results))
	}
	if results[0].Product.Handle != "done" || results[1].Product.Handle != "todo" {
		t.Errorf("result handles = %s, %s", results[0].Product.Handle, results[1].Product.Handle)
	}
	if results[0].Tier != model.TierClean {
		t.Errorf("hydrated tier = %s, want the ledger's clean", results[0].Tier)
	}
}

func TestRunResumeRejectsCompletedRun(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := openTestLedger(t)
	p := NewWithProvider(cfg, pipelineTestSchema(t), store, nil)

	runID, _ := store.StartRun(ctx, "")
	if err := store.CompleteRun(ctx, runID); err != nil {
		t.Fatal(err)
	}

	if _, _, err := p.Run(ctx, nil, runID); err == nil {
		t.Error("Run() should refuse to resume a completed run")
	}
	if _, _, err := p.Run(ctx, nil, "run-missing"); err == nil {
		t.Error("Run() should refuse to resume an unknown run")
	}
}

func TestRunBudgetExhaustionStillFlushes(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.Budget = time.Nanosecond
	store := openTestLedger(t)
	provider := &fakeProvider{responses: map[string]string{
		"cbd_type tag value": "full_spectrum\nconfidence: 0.9",
	}}
	p := NewWithProvider(cfg, pipelineTestSchema(t), store, provider)

	products := []model.Product{
		{Handle: "cbd-gummies", Title: "1000mg CBD Gummies"},
	}
	time.Sleep(time.Millisecond) // budget expires before any escalation

	summary, results, err := p.Run(ctx, products, "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if atomic.LoadInt64(&provider.calls) != 0 {
		t.Errorf("provider calls = %d, want 0 after budget exhaustion", provider.calls)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 (product must not be lost)", len(results))
	}
	res := results[0]
	found := false
	for _, reason := range res.FailureReasons {
		if strings.Contains(reason, "budget exhausted") {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons %v should record the skipped escalation", res.FailureReasons)
	}
	if !hasTag(res.FinalTags, "1000mg") {
		t.Errorf("rule tags %v must still flush to output", res.FinalTags)
	}

	saved, err := store.ProductsByTier(ctx, summary.RunID, res.Tier)
	if err != nil || len(saved) != 1 {
		t.Errorf("ledger rows = %d (err %v), want 1", len(saved), err)
	}
}

func TestRunAutonomousReachesTarget(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.TargetCleanRatio = 0.9
	cfg.Pipeline.MaxIterations = 3
	store := openTestLedger(t)
	provider := &fakeProvider{responses: map[string]string{
		"cbd_type tag value": "isolate\nconfidence: 0.9",
	}}
	p := NewWithProvider(cfg, pipelineTestSchema(t), store, provider)

	products := []model.Product{
		{Handle: "clean-1", Title: "Menthol E-liquid 10ml 3mg"},
		{Handle: "needs-ai", Title: "500mg CBD Gummies"},
	}

	summary, results, err := p.RunAutonomous(ctx, products)
	if err != nil {
		t.Fatalf("RunAutonomous() error = %v", err)
	}

	if !summary.TargetMet {
		t.Errorf("target not met: %+v", summary)
	}
	if len(summary.Iterations) != 2 {
		t.Fatalf("iterations = %d, want 2 (rules-only then escalation)", len(summary.Iterations))
	}
	if summary.Iterations[0].Escalations {
		t.Error("first iteration must be rules-only")
	}
	if !summary.Iterations[1].Escalations {
		t.Error("second iteration should escalate")
	}
	if summary.Iterations[1].Processed != 1 {
		t.Errorf("second iteration processed %d, want only the unresolved product", summary.Iterations[1].Processed)
	}
	if summary.Final.Clean != 2 {
		t.Errorf("final clean = %d, want 2", summary.Final.Clean)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want every product emitted", len(results))
	}

	status, err := store.GetRunStatus(ctx, summary.RunID)
	if err != nil || status != model.RunCompleted {
		t.Errorf("run status = %s (err %v), want completed", status, err)
	}
}

func TestRunAutonomousKeepsVariantRows(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.TargetCleanRatio = 0.9
	cfg.Pipeline.MaxIterations = 2
	p := NewWithProvider(cfg, pipelineTestSchema(t), nil, nil)

	// Two variants of one product share a handle. Both must reach the
	// output so the export can union their tags.
	products := []model.Product{
		{Handle: "berry-juice", Title: "Berry Juice E-liquid 10ml 3mg"},
		{Handle: "berry-juice", Title: "Berry Juice E-liquid 10ml 6mg"},
	}

	_, results, err := p.RunAutonomous(ctx, products)
	if err != nil {
		t.Fatalf("RunAutonomous() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want one row per variant", len(results))
	}
	if !hasTag(results[0].FinalTags, "3mg") || !hasTag(results[1].FinalTags, "6mg") {
		t.Errorf("variant tags lost: %v / %v", results[0].FinalTags, results[1].FinalTags)
	}
}

func TestRunAutonomousBudgetExhaustedEmitsCurrent(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.TargetCleanRatio = 1.0
	cfg.Pipeline.MaxIterations = 2
	p := NewWithProvider(cfg, pipelineTestSchema(t), nil, nil)

	products := []model.Product{
		{Handle: "clean-1", Title: "Menthol E-liquid 10ml 3mg"},
		{Handle: "hopeless", Title: "Gift Voucher"},
	}

	summary, results, err := p.RunAutonomous(ctx, products)
	if err != nil {
		t.Fatalf("RunAutonomous() error = %v", err)
	}
	if summary.TargetMet {
		t.Error("target cannot be met without a provider")
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want every product emitted regardless", len(results))
	}
	if summary.Final.Clean != 1 || summary.Final.Untagged != 1 {
		t.Errorf("final = %+v", summary.Final)
	}
}
