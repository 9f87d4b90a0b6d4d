package classify

import (
	"testing"

	"github.com/shand-j/tagforge/internal/model"
	"github.com/shand-j/tagforge/internal/schema"
)

const classifierSchema = `
dimensions:
  category:
    tags: [CBD, e-liquid, coil, pod, tank, disposable, pod_system, box_mod, device, nicotine_pouches, accessory, supplement, terpene, extraction_equipment]
  nicotine_strength:
    applies_to: [e-liquid, disposable, pod, pod_system, device, nicotine_pouches]
  cbd_strength:
    applies_to: [CBD]
  nicotine_type:
    tags: [nic_salt, freebase, nicotine_free]
    applies_to: [e-liquid, disposable, pod, nicotine_pouches]
  cbd_form:
    tags: [tincture, oil, capsule, gummy, topical, paste, patch, edible, beverage, vape, flower, wax, shatter, crumble]
    applies_to: [CBD]
  cbd_type:
    tags: [full_spectrum, broad_spectrum, isolate, cbg, cbda]
    applies_to: [CBD]
  vg_ratio:
    tags: [50/50, 60/40, 70/30, 80/20, 100/0]
    applies_to: [e-liquid]
  bottle_size:
    applies_to: [e-liquid]
  capacity:
    applies_to: [pod, pod_system, device, disposable, tank]
  flavor_profile:
    tags: [fruity, ice, tobacco, desserts/bakery, beverages, candy/sweets, nuts, unflavoured]
    applies_to: [e-liquid, disposable, pod, nicotine_pouches]
  device_type:
    tags: [rechargeable, starter_kit, pod_kit, mod_kit]
    applies_to: [device, pod_system, box_mod]
  device_style:
    tags: [pen_style, pod_style, box_style, stick_style, compact]
    applies_to: [device, pod_system, box_mod, disposable, CBD]
  vaping_style:
    tags: [mouth-to-lung, direct-to-lung, restricted-direct-to-lung]
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

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	s, err := schema.Parse([]byte(classifierSchema))
	if err != nil {
		t.Fatalf("schema.Parse() error: %v", err)
	}
	return New(s)
}

func tagValues(res Result) map[string]string {
	out := make(map[string]string, len(res.Tags))
	for _, c := range res.Tags {
		out[c.Value] = c.Dimension
	}
	return out
}

func TestDetectCategory(t *testing.T) {
	c := testClassifier(t)

	tests := []struct {
		name     string
		product  model.Product
		category string
		forced   bool
	}{
		{
			"cbd from title",
			model.Product{Handle: "calm-drops", Title: "1000mg Full Spectrum CBD Oil"},
			"CBD", true,
		},
		{
			"declared type wins",
			model.Product{Handle: "vape-kit", Title: "Starter Vape Kit", DeclaredType: "CBD Products"},
			"CBD", true,
		},
		{
			"charger outranks device words",
			model.Product{Handle: "usb-charger", Title: "USB Charger for Vape Device"},
			"accessory", true,
		},
		{
			"airpod case is not a pod",
			model.Product{Handle: "airpod-case", Title: "Airpod Case Holder"},
			"accessory", true,
		},
		{
			"pod kit is a pod system",
			model.Product{Handle: "caliburn", Title: "Caliburn Pod Kit"},
			"pod_system", true,
		},
		{
			"disposable brand pattern",
			model.Product{Handle: "lost-mary-bm600", Title: "Lost Mary BM600"},
			"disposable", true,
		},
		{
			"description is a weaker fallback",
			model.Product{Handle: "mystery", Title: "Mystery Box", Description: "contains one disposable vape"},
			"disposable", false,
		},
		{
			"no evidence at all",
			model.Product{Handle: "gift-card", Title: "Gift Card"},
			"", false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.DetectCategory(&tt.product)
			if got.Category != tt.category || got.Forced != tt.forced {
				t.Errorf("DetectCategory() = (%q, forced=%v), want (%q, forced=%v)",
					got.Category, got.Forced, tt.category, tt.forced)
			}
		})
	}
}

func TestClassifyELiquidScenario(t *testing.T) {
	c := testClassifier(t)

	res := c.Classify(&model.Product{
		Handle:      "strawberry-banana-ice",
		Title:       "Strawberry Banana Ice 50ml",
		Description: "Premium e-liquid with 0mg nicotine, 70VG/30PG blend.",
	})
	if res.Category.Category != "e-liquid" {
		t.Fatalf("category = %q, want e-liquid", res.Category.Category)
	}

	tags := tagValues(res)
	for _, want := range []string{"e-liquid", "0mg", "50ml", "70/30", "fruity", "ice"} {
		if _, ok := tags[want]; !ok {
			t.Errorf("missing tag %q in %v", want, res.Tags)
		}
	}
	if tags["50ml"] != "bottle_size" {
		t.Errorf("50ml recorded under %q, want bottle_size", tags["50ml"])
	}
	if tags["70/30"] != "vg_ratio" {
		t.Errorf("70/30 recorded under %q, want vg_ratio", tags["70/30"])
	}
	if _, ok := tags["restricted-direct-to-lung"]; !ok {
		t.Errorf("expected vaping style inferred from 70/30, got %v", res.Tags)
	}

	secondary := make(map[string]struct{})
	for _, s := range res.SecondaryFlavors {
		secondary[s] = struct{}{}
	}
	for _, want := range []string{"strawberry", "banana"} {
		if _, ok := secondary[want]; !ok {
			t.Errorf("missing secondary flavor %q in %v", want, res.SecondaryFlavors)
		}
	}
}

func TestClassifyCBDScenario(t *testing.T) {
	c := testClassifier(t)

	res := c.Classify(&model.Product{
		Handle: "cbd-gummies",
		Title:  "1000mg Full Spectrum CBD Gummies",
	})
	if res.Category.Category != "CBD" {
		t.Fatalf("category = %q, want CBD", res.Category.Category)
	}
	tags := tagValues(res)
	for _, want := range []string{"CBD", "1000mg", "gummy", "full_spectrum"} {
		if _, ok := tags[want]; !ok {
			t.Errorf("missing tag %q in %v", want, res.Tags)
		}
	}
	if tags["1000mg"] != "cbd_strength" {
		t.Errorf("1000mg recorded under %q, want cbd_strength", tags["1000mg"])
	}
}

func TestClassifyIllegalNicotineKept(t *testing.T) {
	c := testClassifier(t)

	res := c.Classify(&model.Product{
		Handle: "extra-strong",
		Title:  "Extra Strong E-liquid 25mg",
	})
	tags := tagValues(res)
	if _, ok := tags["25mg"]; !ok {
		t.Errorf("illegal 25mg should be kept for validation to flag, got %v", res.Tags)
	}
	// Never silently substituted with a legal neighbor
	for _, forbidden := range []string{"20mg", "18mg"} {
		if _, ok := tags[forbidden]; ok {
			t.Errorf("tag %q silently substituted for illegal 25mg", forbidden)
		}
	}
}

func TestClassifyOutOfRangeCBDDropped(t *testing.T) {
	c := testClassifier(t)

	res := c.Classify(&model.Product{
		Handle: "cbd-syrup",
		Title:  "CBD syrup 60000mg",
	})
	tags := tagValues(res)
	if _, ok := tags["60000mg"]; ok {
		t.Errorf("out-of-range CBD strength must be dropped, got %v", res.Tags)
	}
}

func TestClassifyCBDPenGating(t *testing.T) {
	c := testClassifier(t)

	res := c.Classify(&model.Product{
		Handle: "cbd-pen-applicator",
		Title:  "CBD Pen Applicator 500mg",
	})
	if res.Category.Category != "CBD" {
		t.Fatalf("category = %q, want CBD", res.Category.Category)
	}
	tags := tagValues(res)
	if _, ok := tags["pen_style"]; ok {
		t.Errorf("pen_style must not fire for a CBD product, got %v", res.Tags)
	}
}

func TestClassifyCBDDeviceEvidence(t *testing.T) {
	c := testClassifier(t)

	// "Kit" is device evidence, so the style extractor runs even though
	// the category is CBD.
	res := c.Classify(&model.Product{
		Handle: "cbd-vape-pen-kit",
		Title:  "CBD Vape Pen Starter Kit 500mg",
	})
	if res.Category.Category != "CBD" {
		t.Fatalf("category = %q, want CBD", res.Category.Category)
	}
	tags := tagValues(res)
	if _, ok := tags["pen_style"]; !ok {
		t.Errorf("pen_style should fire for a CBD vape kit, got %v", res.Tags)
	}
}

func TestClassifyBoundarySafety(t *testing.T) {
	c := testClassifier(t)

	t.Run("120ml never yields 2ml", func(t *testing.T) {
		res := c.Classify(&model.Product{Handle: "big-bottle", Title: "Menthol E-liquid 120ml"})
		tags := tagValues(res)
		if _, ok := tags["2ml"]; ok {
			t.Errorf("2ml extracted from 120ml: %v", res.Tags)
		}
		if _, ok := tags["120ml"]; !ok {
			t.Errorf("expected 120ml bottle size, got %v", res.Tags)
		}
	})

	t.Run("device never yields ice", func(t *testing.T) {
		res := c.Classify(&model.Product{Handle: "vape-device", Title: "Compact Vape Device Kit"})
		tags := tagValues(res)
		if _, ok := tags["ice"]; ok {
			t.Errorf("ice extracted from device: %v", res.Tags)
		}
	})
}

func TestClassifyShortfill(t *testing.T) {
	c := testClassifier(t)

	t.Run("explicit shortfill", func(t *testing.T) {
		res := c.Classify(&model.Product{Handle: "sf", Title: "Blue Razz 100ml Shortfill E-liquid"})
		if _, ok := tagValues(res)["shortfill"]; !ok {
			t.Errorf("expected shortfill tag, got %v", res.Tags)
		}
	})

	t.Run("implicit from size and zero nic", func(t *testing.T) {
		res := c.Classify(&model.Product{
			Handle:      "sf2",
			Title:       "Mango E-liquid 50ml",
			Description: "nicotine free juice",
		})
		if _, ok := tagValues(res)["shortfill"]; !ok {
			t.Errorf("expected implicit shortfill tag, got %v", res.Tags)
		}
	})

	t.Run("nic shot excluded", func(t *testing.T) {
		res := c.Classify(&model.Product{Handle: "nic-shot", Title: "Nic Shot 18mg 10ml for shortfills"})
		tags := tagValues(res)
		if _, ok := tags["shortfill"]; ok {
			t.Errorf("nic shot tagged as shortfill: %v", res.Tags)
		}
		if _, ok := tags["nic_shot"]; !ok {
			t.Errorf("expected nic_shot tag, got %v", res.Tags)
		}
	})
}

func TestClassifyDeterminism(t *testing.T) {
	c := testClassifier(t)
	p := model.Product{
		Handle:      "strawberry-banana-ice",
		Title:       "Strawberry Banana Ice 50ml",
		Description: "Premium e-liquid with 0mg nicotine, 70VG/30PG blend.",
	}

	first := c.Classify(&p)
	for i := 0; i < 10; i++ {
		again := c.Classify(&p)
		if len(again.Tags) != len(first.Tags) {
			t.Fatalf("run %d produced %d tags, first run produced %d", i, len(again.Tags), len(first.Tags))
		}
		for j := range first.Tags {
			if again.Tags[j].Value != first.Tags[j].Value {
				t.Fatalf("run %d tag %d = %q, first run had %q", i, j, again.Tags[j].Value, first.Tags[j].Value)
			}
		}
	}
}
