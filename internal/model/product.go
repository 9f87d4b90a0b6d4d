package model

import "time"

// Product is one input row to the tagging pipeline. Multiple rows may share a
// Handle (size/strength variants of the same catalog item); the export stage
// unions their tag sets. Products are immutable during classification.
type Product struct {
	Handle       string `json:"handle"`                  // Stable identity shared by variant rows
	Title        string `json:"title"`                   // Free-text product title (primary signal)
	Description  string `json:"description,omitempty"`   // Free-text description (secondary signal)
	DeclaredType string `json:"declared_type,omitempty"` // Optional upstream category hint
	SKU          string `json:"sku,omitempty"`

	// Attributes carries any raw option columns from the input (name → value)
	Attributes map[string]string `json:"attributes,omitempty"`
}

// TagSource identifies where a tag candidate came from
type TagSource string

const (
	SourceRule  TagSource = "rule"
	SourceAI    TagSource = "ai"
	SourceHuman TagSource = "human"
)

// TagCandidate is one proposed tag for a product. Several candidates may exist
// for a multi-valued dimension (flavour families); single-valued dimensions
// keep only the highest-confidence candidate.
type TagCandidate struct {
	Value      string    `json:"value"`
	Dimension  string    `json:"dimension"`
	Source     TagSource `json:"source"`
	Confidence float64   `json:"confidence"` // ∈ [0,1]
}

// CategoryDecision is the outcome of category detection. An empty Category
// means no keyword set matched and the product proceeds as untagged unless
// escalation resolves it.
type CategoryDecision struct {
	Category     string `json:"category,omitempty"`
	Forced       bool   `json:"forced"`        // True when a category keyword match overrides weaker signals
	PriorityRank int    `json:"priority_rank"` // Tie-break when multiple keyword sets match
}

// ProductState tracks a product through the escalation state machine:
// RuleTagged → {Validated | NeedsEscalation} → AiTagged → {Validated | NeedsReview}
type ProductState string

const (
	StateRuleTagged      ProductState = "rule_tagged"
	StateNeedsEscalation ProductState = "needs_escalation"
	StateAiTagged        ProductState = "ai_tagged"
	StateValidated       ProductState = "validated"
	StateNeedsReview     ProductState = "needs_review"
)

// Tier is one of the three output partitions assigned after final validation
type Tier string

const (
	TierClean    Tier = "clean"    // Category detected and validation passed
	TierReview   Tier = "review"   // Category detected but validation still fails
	TierUntagged Tier = "untagged" // No category after rules and escalation
)

// TaggingResult is the complete per-product outcome of one pipeline pass
type TaggingResult struct {
	Product          Product          `json:"product"`
	Category         CategoryDecision `json:"category"`
	RuleTags         []string         `json:"rule_tags"`
	AITags           []string         `json:"ai_tags,omitempty"`
	FinalTags        []string         `json:"final_tags"`
	SecondaryFlavors []string         `json:"secondary_flavors,omitempty"` // Free-text flavor words beyond family tags
	State            ProductState     `json:"state"`
	Tier             Tier             `json:"tier"`
	FailureReasons   []string         `json:"failure_reasons,omitempty"`
	Confidence       float64          `json:"confidence"` // Highest AI confidence seen, 0 for pure rule results
	ModelUsed        string           `json:"model_used,omitempty"`
}

// RunStatus is the lifecycle state of a pipeline run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
)

// PipelineRun is one batch execution recorded in the audit ledger. Exactly one
// run is "latest" at a time; a run may be resumed by id while status=running.
type PipelineRun struct {
	RunID          string     `json:"run_id"`
	ConfigSnapshot string     `json:"config_snapshot,omitempty"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	IsLatest       bool       `json:"is_latest"`
}

// AuditRecord is one row per (run_id, handle) in the ledger. Created on first
// classification, updated by escalation and human review, never deleted.
type AuditRecord struct {
	RunID              string    `json:"run_id"`
	Handle             string    `json:"handle"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	DetectedCategory   string    `json:"detected_category,omitempty"`
	RuleTags           []string  `json:"rule_tags"`
	AITags             []string  `json:"ai_tags,omitempty"`
	FinalTags          []string  `json:"final_tags"`
	SecondaryFlavors   []string  `json:"secondary_flavors,omitempty"`
	FailureReasons     []string  `json:"failure_reasons,omitempty"`
	Tier               Tier      `json:"tier"`
	AIConfidence       float64   `json:"ai_confidence"`
	ModelUsed          string    `json:"model_used,omitempty"`
	HumanVerified      bool      `json:"human_verified"`
	HumanCorrectedTags []string  `json:"human_corrected_tags,omitempty"`
	ProcessedAt        time.Time `json:"processed_at"`
}
