package classify

// Keyword tables for category detection and attribute extraction. These are
// deliberately static: the approved vocabulary lives in the schema file, but
// the evidence that maps raw product text onto that vocabulary is code.

// categoryRule maps a keyword set to a category. Rules are evaluated in
// order against handle+title first, then description; the first hit wins.
type categoryRule struct {
	category string
	keywords []string
}

// categoryRules is ordered most-specific-first. Accessory signals like
// "charger" outrank hardware words that often appear alongside them, and
// "case" is checked before "pod" so "airpod case" never lands in pod.
var categoryRules = []categoryRule{
	{"accessory", []string{"usb cable", "charging cable", "data cable", "usb-c cable", "micro usb", "type-c cable"}},
	{"accessory", []string{"charger"}},
	{"accessory", []string{"battery", "batteries"}},
	{"accessory", []string{"atomizer", "atomiser"}},
	{"terpene", []string{"terpene"}},
	{"extraction_equipment", []string{"rosin press", "pollen press", "extractor", "hex press"}},
	{"supplement", []string{"vitamin", "mineral", "nootropic", "mushroom", "probiotic"}},
	{"accessory", []string{"cleaning swab", "cleaning wipe", "cleaning kit", "pipe cleaner"}},
	{"coil", []string{"coil"}},
	{"tank", []string{"tank"}},
	{"CBD", []string{"cbd", "cbg", "hemp oil", "hemp extract", "hemp seed"}},
	{"nicotine_pouches", []string{"nicotine pouch", "nic pouch", "snus"}},
	{"e-liquid", []string{"e-liquid", "eliquid", "e liquid", "nic salt", "shortfill", "juice"}},
	{"accessory", []string{"case", "lanyard", "mouthpiece", "pouch"}},
	{"pod_system", []string{"pod kit", "pod system"}},
	{"pod", []string{"pod"}},
	{"disposable", []string{"disposable", "puff"}},
	{"disposable", []string{"elf bar", "elfbar", "crystal bar", "lost mary", "geek bar", "geekbar", "hayati", "elux", "oxbar", "waka"}},
	{"box_mod", []string{"box mod"}},
	{"device", []string{"device", "kit", "mod", "vape pen"}},
}

// categoryPriority ranks categories for reporting and for resolving conflicts
// between rule-detected and model-suggested categories. Higher is stronger.
var categoryPriority = map[string]int{
	"CBD":                  15,
	"e-liquid":             14,
	"coil":                 13,
	"pod":                  12,
	"tank":                 11,
	"disposable":           10,
	"pod_system":           9,
	"box_mod":              8,
	"device":               7,
	"nicotine_pouches":     6,
	"accessory":            5,
	"supplement":           4,
	"terpene":              3,
	"extraction_equipment": 2,
}

var zeroNicotinePhrases = []string{
	"zero nicotine", "zero nic", "nicotine free", "nicotine-free", "nic free", "nic-free", "no nicotine", "0mg",
}

// deviceEvidence are the words that justify device-style tags on a product
// whose category would otherwise forbid them (a CBD "Pen Applicator" is not
// a vape pen)
var deviceEvidence = []string{
	"device", "kit", "battery", "coil", "cartridge", "charger", "mod", "wattage", "airflow",
}

// flavorFamilies maps each controlled family tag to the evidence words that
// place a product in it. Matching is multi-label: "Strawberry Ice" is both
// fruity and ice.
var flavorFamilies = []struct {
	family   string
	keywords []string
}{
	{"fruity", []string{
		"fruit", "fruity", "berry", "citrus",
		"strawberry", "raspberry", "blueberry", "blackberry", "cranberry",
		"apple", "pear", "orange", "lemon", "lime", "grapefruit", "tangerine",
		"mango", "pineapple", "coconut", "papaya", "guava", "passion fruit", "lychee",
		"peach", "plum", "apricot", "cherry",
		"grape", "watermelon", "melon", "kiwi", "banana",
	}},
	{"ice", []string{
		"ice", "iced", "icy", "cool", "cooling", "menthol", "mint",
		"freeze", "frozen", "arctic", "peppermint", "spearmint", "wintergreen",
	}},
	{"tobacco", []string{"tobacco"}},
	{"desserts/bakery", []string{
		"dessert", "bakery", "cake", "cookie", "custard", "cream",
		"donut", "waffle", "pastry", "pudding", "ice cream",
	}},
	{"beverages", []string{
		"beverage", "drink", "cola", "coffee", "tea", "soda",
		"lemonade", "cocktail", "mojito",
	}},
	{"candy/sweets", []string{
		"candy", "sweets", "gummy", "sour", "bubblegum", "bubble gum",
		"cotton candy", "lollipop", "blue razz", "sherbet", "rainbow", "toffee", "caramel",
	}},
	{"nuts", []string{"nut", "nutty", "almond", "hazelnut", "peanut", "walnut", "pistachio"}},
	{"unflavoured", []string{"unflavoured", "unflavored", "flavourless"}},
}

// familyLabels is the set of controlled family tags; evidence words outside
// this set are kept as secondary free-text flavors
var familyLabels = map[string]struct{}{
	"fruit": {}, "fruity": {}, "ice": {}, "iced": {}, "tobacco": {},
	"dessert": {}, "bakery": {}, "beverage": {}, "candy": {}, "sweets": {},
	"unflavoured": {}, "unflavored": {}, "flavourless": {},
}

// cbdFormRules is an ordered chain; more specific forms come first so "gummy
// bear" does not fall through to a weaker match
var cbdFormRules = []struct {
	form     string
	keywords []string
}{
	{"capsule", []string{"capsule", "softgel", "soft gel", "gel cap", "gelcap"}},
	{"gummy", []string{"gummy", "gummies", "jelly", "chew"}},
	{"topical", []string{"topical", "cream", "balm", "salve", "lotion", "roll-on"}},
	{"oil", []string{"oil"}},
	{"tincture", []string{"tincture", "drop", "drops", "sublingual", "extract"}},
	{"crumble", []string{"crumble"}},
	{"shatter", []string{"shatter"}},
	{"wax", []string{"wax", "dab"}},
	{"paste", []string{"paste", "concentrate"}},
	{"beverage", []string{"beverage", "drink", "sparkling", "soda", "tea", "coffee"}},
	{"edible", []string{"edible", "cookie", "brownie", "chocolate", "snack"}},
	{"patch", []string{"patch", "transdermal"}},
	{"vape", []string{"vape", "cartridge", "cart", "disposable", "e-liquid"}},
	{"flower", []string{"flower", "bud", "pre-roll", "preroll"}},
}

var cbdTypeRules = []struct {
	cbdType  string
	keywords []string
}{
	{"full_spectrum", []string{"full spectrum", "full-spectrum", "fullspectrum"}},
	{"broad_spectrum", []string{"broad spectrum", "broad-spectrum", "broadspectrum"}},
	{"isolate", []string{"isolate", "pure cbd"}},
	{"cbg", []string{"cbg"}},
	{"cbda", []string{"cbda"}},
}

var deviceStyleRules = []struct {
	style    string
	keywords []string
}{
	{"pen_style", []string{"pen"}},
	{"pod_style", []string{"pod"}},
	{"box_style", []string{"box"}},
	{"stick_style", []string{"stick"}},
	{"compact", []string{"compact", "mini"}},
}

// nicotineCategories are the categories whose mg tokens mean nicotine rather
// than CBD
var nicotineCategories = map[string]struct{}{
	"e-liquid": {}, "disposable": {}, "pod": {}, "pod_system": {},
	"device": {}, "nicotine_pouches": {},
}

// capacityCategories get "<N>ml" recorded as capacity; e-liquid gets it as
// bottle_size
var capacityCategories = map[string]struct{}{
	"pod": {}, "pod_system": {}, "device": {}, "disposable": {}, "tank": {},
}

var flavorCategories = map[string]struct{}{
	"e-liquid": {}, "disposable": {}, "pod": {}, "nicotine_pouches": {},
}

var deviceStyleCategories = map[string]struct{}{
	"device": {}, "pod_system": {}, "box_mod": {}, "disposable": {}, "pod": {},
}
