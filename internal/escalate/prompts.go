package escalate

import (
	"strings"
	"unicode/utf8"
)

// Targeted prompt templates, one per dimension. Keeping the output space to
// a single enumerated value is what makes model answers verifiable; there is
// deliberately no open-ended "tag this product" prompt.
var tagPrompts = map[string]string{
	"category": `Analyze this product and determine its category.

Product: {title}
Description: {body}

Category Options (choose ONE primary):
- e-liquid: E-liquids, vape juice, nic salts, shortfills
- disposable: Single-use vapes, disposable pods
- pod_system: Pod devices, starter kits with pods
- device: Vape mods, box mods, kits
- tank: Tanks, atomizers
- coil: Replacement coils
- pod: Replacement pods, cartridges
- CBD: CBD products (e-liquids, oils, edibles)
- nicotine_pouches: Nicotine pouches, snus
- accessory: Chargers, batteries, cases, cables

Analyze the title carefully:
- "e-liquid", "juice", "vape liquid" -> e-liquid
- "disposable", "bar", "puff" -> disposable
- "pod kit", "starter kit" -> pod_system
- "mod", "device", "kit" (without pod) -> device
- "cbd", "cannabidiol" -> CBD
- "pouch", "snus" with "nicotine" -> nicotine_pouches

Return ONLY the category value (e.g., "e-liquid"). Nothing else.`,

	"nicotine_strength": `Analyze this product and extract its nicotine strength.

Product: {title}
Description: {body}

Look for strength patterns in the title:
- "Xmg" where X is a number (e.g., "10mg", "20mg")
- "X mg" with space
- Legal nicotine strengths: 0, 3, 6, 10, 12, 18, 20 mg

Return ONLY the numeric value without "mg" (e.g., "20"). Nothing else.
If multiple strengths, return the first/primary one.
If no strength found, return "unknown".`,

	"cbd_strength": `Analyze this CBD product and extract its CBD strength.

Product: {title}
Description: {body}

Look for strength patterns in the title:
- "Xmg" where X is a number (e.g., "500mg", "1000mg")
- CBD typically: 100, 250, 500, 1000, 1500, 2000 mg or higher

Return ONLY the numeric value without "mg" (e.g., "1000"). Nothing else.
If no strength found, return "unknown".`,

	"cbd_type": `Analyze this CBD product and determine its CBD type.

Product: {title}
Description: {body}
Current Tags: {tags}

CBD Type Options (choose ONE):
- full_spectrum: Contains full range of cannabinoids, terpenes, THC < 0.3%
- broad_spectrum: Like full spectrum but THC-free
- isolate: Pure CBD, 99%+ purity
- cbg: Primarily contains CBG (cannabigerol)
- cbda: Contains CBDA (raw/acidic form)

If the description mentions "full spectrum" or "whole plant", choose full_spectrum.
If it mentions "broad spectrum" or "THC free", choose broad_spectrum.
If it mentions "isolate" or "pure CBD", choose isolate.

If unclear from description, common products:
- CBD e-liquids are typically broad_spectrum or isolate
- CBD oils/tinctures are typically full_spectrum
- CBD edibles are typically broad_spectrum or isolate

Return ONLY the cbd_type tag value (e.g., "broad_spectrum"). Nothing else.`,

	"cbd_form": `Analyze this CBD product and determine its form.

Product: {title}
Description: {body}
Current Tags: {tags}

CBD Form Options (choose ONE):
- tincture: Drops, sublingual
- oil: CBD oil
- capsule: Capsules, softgels
- gummy: Gummies, jellies
- topical: Creams, balms, salves
- paste: Pastes, concentrates
- patch: Transdermal patches
- edible: Cookies, chocolate, snacks
- beverage: Drinks, teas
- vape: Vape liquids, cartridges
- flower: Hemp flower, pre-rolls

Return ONLY the cbd_form tag value (e.g., "tincture"). Nothing else.`,

	"nicotine_type": `Analyze this product and determine the nicotine type.

Product: {title}
Description: {body}
Current Tags: {tags}

Nicotine Type Options (choose ONE):
- nic_salt: Nicotine salts, smoother throat hit, typically 10-20mg
- freebase: Traditional nicotine, harsher at high strengths
- nicotine_free: 0mg, no nicotine

Key indicators:
- "salt" or "nic salt" in name -> nic_salt
- "freebase" in name -> freebase
- "shortfill" usually requires adding nicotine shots -> nicotine_free (base product)
- "0mg" in title -> nicotine_free

Return ONLY the nicotine_type tag value (e.g., "nic_salt"). Nothing else.`,

	"flavor_profile": `Analyze this product and determine its primary flavor profile.

Product: {title}
Description: {body}
Current Tags: {tags}

Flavor Profile Options (choose ONE primary):
- fruity: Fruit flavors (strawberry, mango, apple, etc.)
- ice: Menthol, mint, cooling
- tobacco: Tobacco, cigarette-like
- desserts/bakery: Dessert, cake, custard, cream
- beverages: Coffee, cola, energy drink
- candy/sweets: Candy, gummy, sweet
- nuts: Nut flavors
- unflavoured: No flavor added

Look for flavor words in title and description.
"Menthol" or "Ice" indicates ice. Fruit names indicate fruity.
"Custard", "Cake", "Cream" indicate desserts/bakery.

Return ONLY the flavor_profile tag value (e.g., "fruity"). Nothing else.`,

	"device_type": `Analyze this device and determine its type.

Product: {title}
Description: {body}
Current Tags: {tags}

Device Type Options (choose ONE):
- rechargeable: Rechargeable devices
- starter_kit: Beginner kits, all-in-one
- pod_kit: Pod-based kits
- mod_kit: Mod kits, usually with external batteries

Return ONLY the device_type tag value (e.g., "starter_kit"). Nothing else.`,

	"device_style": `Analyze this device and determine its form factor.

Product: {title}
Description: {body}
Current Tags: {tags}

Device Style Options (choose ONE):
- pen_style: Pen-shaped, cylindrical
- pod_style: Pod-shaped
- box_style: Box-shaped
- stick_style: Thin stick form
- compact: Compact or mini form

Return ONLY the device_style tag value (e.g., "pen_style"). Nothing else.`,

	"vg_ratio": `Analyze this e-liquid and determine its VG/PG ratio.

Product: {title}
Description: {body}

Common VG/PG Ratios:
- 70/30: 70% VG, 30% PG - common for sub-ohm
- 50/50: Equal ratio - common for nic salts, MTL
- 80/20: High VG for cloud production
- 100/0: Max VG

Look for patterns:
- "70VG/30PG" or "70/30" -> 70/30
- "50/50" or "50VG" -> 50/50
- "Max VG" or "100VG" -> 100/0

Return ONLY the ratio in format "XX/YY" (e.g., "70/30"). Nothing else.
If not specified, return "unknown".`,

	"vaping_style": `Analyze this product and determine the recommended vaping style.

Product: {title}
Description: {body}
Current Tags: {tags}

Vaping Style Options:
- mouth-to-lung: MTL, tight draw, like cigarettes, typically high PG
- direct-to-lung: DTL/DL, open airflow, big clouds, typically high VG
- restricted-direct-to-lung: RDTL, between MTL and DTL

Key indicators:
- "MTL" or "mouth to lung" -> mouth-to-lung
- "DTL" or "DL" or "direct lung" -> direct-to-lung
- "50/50" ratio usually -> mouth-to-lung
- "Nic salt" usually -> mouth-to-lung
- "Sub-ohm" -> direct-to-lung

Return ONLY the vaping_style value (e.g., "mouth-to-lung"). Nothing else.`,
}

// HasPrompt reports whether a targeted prompt exists for the dimension
func HasPrompt(dimension string) bool {
	_, ok := tagPrompts[dimension]
	return ok
}

// RenderPrompt fills the dimension's template with product context. The
// description is truncated: escalation needs evidence, not the whole page.
func RenderPrompt(dimension, title, body string, currentTags []string) (string, bool) {
	tmpl, ok := tagPrompts[dimension]
	if !ok {
		return "", false
	}
	if body == "" {
		body = "No description available"
	}
	if len(body) > 1500 {
		cut := 1500
		// Back off to a rune start so the cut never leaves a broken
		// UTF-8 sequence in the prompt.
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	tags := strings.Join(currentTags, ", ")
	if tags == "" {
		tags = "None"
	}
	r := strings.NewReplacer("{title}", title, "{body}", body, "{tags}", tags)
	return r.Replace(tmpl), true
}
