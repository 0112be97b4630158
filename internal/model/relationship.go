package model

import "time"

// RelationshipType is the closed set of edge types the graph can express.
// Grouped by the categories in the knowledge-graph relationships spec.
type RelationshipType string

const (
	// Structural
	RelContains RelationshipType = "CONTAINS"
	RelDefines  RelationshipType = "DEFINES"
	RelExports  RelationshipType = "EXPORTS"
	RelImports  RelationshipType = "IMPORTS"

	// Code
	RelCalls       RelationshipType = "CALLS"
	RelReferences  RelationshipType = "REFERENCES"
	RelImplements  RelationshipType = "IMPLEMENTS"
	RelExtends     RelationshipType = "EXTENDS"
	RelDependsOn   RelationshipType = "DEPENDS_ON"
	RelOverrides   RelationshipType = "OVERRIDES"
	RelReads       RelationshipType = "READS"
	RelWrites      RelationshipType = "WRITES"
	RelThrows      RelationshipType = "THROWS"
	RelReturnsType RelationshipType = "RETURNS_TYPE"
	RelParamType   RelationshipType = "PARAM_TYPE"
	RelTypeUses    RelationshipType = "TYPE_USES"

	// Test
	RelTests    RelationshipType = "TESTS"
	RelValidates RelationshipType = "VALIDATES"

	// Spec
	RelRequires       RelationshipType = "REQUIRES"
	RelImpacts        RelationshipType = "IMPACTS"
	RelImplementsSpec RelationshipType = "IMPLEMENTS_SPEC"

	// Documentation
	RelDocumentedBy     RelationshipType = "DOCUMENTED_BY"
	RelDescribesDomain  RelationshipType = "DESCRIBES_DOMAIN"

	// Temporal
	RelPreviousVersion RelationshipType = "PREVIOUS_VERSION"
	RelModifiedBy      RelationshipType = "MODIFIED_BY"
	RelSessionModified RelationshipType = "SESSION_MODIFIED"
	RelBrokeIn         RelationshipType = "BROKE_IN"
	RelFixedIn         RelationshipType = "FIXED_IN"

	// Checkpoint
	RelCheckpointIncludes RelationshipType = "CHECKPOINT_INCLUDES"
)

// codeRelationshipTypes are the types the Relationship Builder (C4) resolves
// against the import map / type checker / name index, as opposed to the
// purely structural edges the AST Parser (C1) emits directly.
var codeRelationshipTypes = map[RelationshipType]bool{
	RelCalls: true, RelReferences: true, RelImplements: true, RelExtends: true,
	RelDependsOn: true, RelReturnsType: true, RelParamType: true, RelTypeUses: true,
	RelReads: true, RelWrites: true, RelThrows: true, RelOverrides: true,
}

// IsCodeRelationship reports whether t is resolved by the Relationship
// Builder's resolution chain rather than emitted structurally by the parser.
func (t RelationshipType) IsCodeRelationship() bool {
	return codeRelationshipTypes[t]
}

// EvidenceSource names where one observation of a relationship came from.
// BaseConfidence mirrors the fixed scoring table in the spec (§4.4).
type EvidenceSource string

const (
	SourceAST         EvidenceSource = "ast"
	SourceTypeChecker EvidenceSource = "type-checker"
	SourceIndex       EvidenceSource = "index"
	SourceHeuristic   EvidenceSource = "heuristic"
)

// BaseConfidence returns the fixed per-source confidence used before
// combining multiple sources (§4.4).
func (s EvidenceSource) BaseConfidence() float64 {
	switch s {
	case SourceAST:
		return 1.0
	case SourceTypeChecker:
		return 0.95
	case SourceIndex:
		return 0.7
	case SourceHeuristic:
		return 0.4
	default:
		return 0
	}
}

// CombineConfidence folds independent observations per the spec's formula
// 1 - prod(1 - c_i), used when multiple resolution sources agree on the
// same logical edge.
func CombineConfidence(confidences ...float64) float64 {
	product := 1.0
	for _, c := range confidences {
		product *= 1 - c
	}
	return 1 - product
}

// Evidence is one bounded observation supporting a relationship (§3 invariant 8).
type Evidence struct {
	Source     EvidenceSource `json:"source"`
	Confidence float64        `json:"confidence"`
	Location   *Location      `json:"location,omitempty"`
	Note       string         `json:"note,omitempty"`
	LastSeenAt time.Time      `json:"lastSeenAt"`
}

// MaxEvidence and MaxLocations are the retention caps the spec requires
// (§3 invariant 8, §9): at most 20 retained samples, most recent wins.
const (
	MaxEvidence  = 20
	MaxLocations = 20
)

// AppendEvidence appends e to the list, trimming the oldest entries (by
// LastSeenAt) first once the list exceeds MaxEvidence. It never reorders
// surviving entries beyond what trimming requires.
func AppendEvidence(existing []Evidence, e Evidence) []Evidence {
	existing = append(existing, e)
	if len(existing) <= MaxEvidence {
		return existing
	}
	oldestIdx := 0
	for i := 1; i < len(existing); i++ {
		if existing[i].LastSeenAt.Before(existing[oldestIdx].LastSeenAt) {
			oldestIdx = i
		}
	}
	return append(existing[:oldestIdx], existing[oldestIdx+1:]...)
}

// AppendLocation is the Location analog of AppendEvidence, used when
// merging locations onto a relationship independently of evidence.
func AppendLocation(existing []Location, loc Location, seenAt []time.Time) ([]Location, []time.Time) {
	existing = append(existing, loc)
	seenAt = append(seenAt, time.Now())
	if len(existing) <= MaxLocations {
		return existing, seenAt
	}
	oldestIdx := 0
	for i := 1; i < len(seenAt); i++ {
		if seenAt[i].Before(seenAt[oldestIdx]) {
			oldestIdx = i
		}
	}
	existing = append(existing[:oldestIdx], existing[oldestIdx+1:]...)
	seenAt = append(seenAt[:oldestIdx], seenAt[oldestIdx+1:]...)
	return existing, seenAt
}

// UnresolvedRef describes a relationship target that could not be bound to
// an entity id (§4.4 resolution step 6).
type UnresolvedRef struct {
	Kind   string `json:"kind"` // "external" | "fileSymbol"
	File   string `json:"file,omitempty"`
	Symbol string `json:"symbol,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Relationship is a typed, directed, versioned edge between two entities.
type Relationship struct {
	ID             string                 `json:"id"`
	FromEntityID   string                 `json:"fromEntityId"`
	ToEntityID     string                 `json:"toEntityId,omitempty"`
	UnresolvedTo   *UnresolvedRef         `json:"unresolvedTo,omitempty"`
	Type           RelationshipType       `json:"type"`
	Created        time.Time              `json:"created"`
	LastModified   time.Time              `json:"lastModified"`
	Version        int                    `json:"version"`
	ValidFrom      time.Time              `json:"validFrom"`
	ValidTo        *time.Time             `json:"validTo,omitempty"`
	Active         bool                   `json:"active"`
	Confidence     *float64               `json:"confidence,omitempty"`
	Inferred       bool                   `json:"inferred"`
	Source         EvidenceSource         `json:"source,omitempty"`
	Occurrences    int                    `json:"occurrences"`
	Evidence       []Evidence             `json:"evidence,omitempty"`
	Locations      []Location             `json:"locations,omitempty"`
	LocationsSeen  []time.Time            `json:"-"`
	LastSeenAt     time.Time              `json:"lastSeenAt"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// IsActive reports whether the edge is currently visible per invariant 4:
// active == true iff validTo == nil.
func (r *Relationship) IsActive() bool {
	return r.Active && r.ValidTo == nil
}

// VisibleAt reports whether the relationship was visible at instant t,
// per the as-of semantics in §4.8: validFrom <= t < (validTo ?? +inf).
func (r *Relationship) VisibleAt(t time.Time) bool {
	if t.Before(r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && !t.Before(*r.ValidTo) {
		return false
	}
	return true
}

// TargetKey returns the normalization key used in canonical id computation:
// the resolved entity id when known, else a stable string derived from the
// unresolved reference (§4.4).
func (r *Relationship) TargetKey() string {
	if r.ToEntityID != "" {
		return r.ToEntityID
	}
	if r.UnresolvedTo != nil {
		if r.UnresolvedTo.Kind == "fileSymbol" && r.UnresolvedTo.File != "" {
			return "file:" + r.UnresolvedTo.File + "#" + r.UnresolvedTo.Symbol
		}
		if r.UnresolvedTo.Name != "" {
			return "name:" + r.UnresolvedTo.Name
		}
	}
	return ""
}
