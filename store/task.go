package store

import "time"

// Kind governs which triggers may start a task (spec §3).
type Kind string

const (
	KindManual Kind = "manual"
	KindAuto   Kind = "auto"
	KindBoth   Kind = "both"
)

// AllowsManual reports whether a caller may invoke executeTask directly.
func (k Kind) AllowsManual() bool {
	return k == KindManual || k == KindBoth
}

// AllowsAuto reports whether the scheduler may pick this task up.
func (k Kind) AllowsAuto() bool {
	return k == KindAuto || k == KindBoth
}

// Direction governs which credentials and mapping options apply.
type Direction string

const (
	DirectionGeneral  Direction = "general"
	DirectionUp       Direction = "up"
	DirectionDown     Direction = "down"
	DirectionInternal Direction = "internal"
)

// Mode controls whether a task materializes results or streams batches.
type Mode string

const (
	ModeNormal    Mode = "normal"
	ModeStreaming Mode = "streaming"
)

// Operator is one of the parameter comparison operators spec §3 allows.
type Operator string

const (
	OpEq      Operator = "="
	OpNeq     Operator = "!="
	OpLt      Operator = "<"
	OpLte     Operator = "<="
	OpGt      Operator = ">"
	OpGte     Operator = ">="
	OpLike    Operator = "LIKE"
	OpIn      Operator = "IN"
	OpBetween Operator = "BETWEEN"
)

// ParamValueKind tags which shape a Parameter.Value carries, modeling the
// dynamic-typing design note in spec.md §9 as an explicit Go sum type.
type ParamValueKind int

const (
	ParamScalar ParamValueKind = iota
	ParamList
	ParamRange
)

// ParamValue is a tagged variant: exactly one of Scalar, List, or
// From/To is meaningful, selected by Kind.
type ParamValue struct {
	Kind   ParamValueKind
	Scalar any
	List   []any
	From   any // BETWEEN lower bound; nil if not supplied
	To     any // BETWEEN upper bound; nil if not supplied
}

func Scalar(v any) ParamValue { return ParamValue{Kind: ParamScalar, Scalar: v} }
func List(v []any) ParamValue { return ParamValue{Kind: ParamList, List: v} }
func Range(from, to any) ParamValue {
	return ParamValue{Kind: ParamRange, From: from, To: to}
}

// Parameter is one WHERE-clause predicate appended to a task's base query.
type Parameter struct {
	Field    string
	Operator Operator
	Value    ParamValue
}

// FieldDefault supplies a constant value for a target column not covered
// by the positional source/target field mapping.
type FieldDefault struct {
	Field string
	Value any
}

// FieldMapping translates source rows into target rows for direction=down.
type FieldMapping struct {
	SourceTable  string
	TargetTable  string
	SourceFields []string
	TargetFields []string
	Defaults     []FieldDefault
}

// ExistenceCheck identifies rows already present in the target so they can
// be skipped (or counted) rather than re-inserted.
type ExistenceCheck struct {
	Table string
	Key   string
}

// ValidationRules configures the Validation Engine (C5) for one task.
type ValidationRules struct {
	RequiredFields []string
	ExistenceCheck ExistenceCheck
}

// PostUpdateMapping ties a source-view identifier to the destination
// table identifier used by a task's post-update statement.
type PostUpdateMapping struct {
	ViewKey  string
	TableKey string
}

// LinkingMetadata marks exactly one member of a linked group as the
// coordinator authorized to run the group's post-update (spec I3).
type LinkingMetadata struct {
	IsCoordinator bool
}

// BonificationConfig configures the Bonification Processor (C6) for tasks
// whose source rows mix regular and bonus order lines.
type BonificationConfig struct {
	SourceTable                    string
	OrderField                     string
	LineOrderField                 string
	BonificationIndicatorField     string
	BonificationIndicatorValue     string
	RegularArticleField            string
	BonificationReferenceField     string
	LineNumberField                string
	BonificationLineReferenceField string
	QuantityField                  string
}

// Task is the stored definition of one transfer.
type Task struct {
	ID   string
	Name string

	Kind      Kind
	Direction Direction
	Mode      Mode
	Active    bool

	Query      string
	Parameters []Parameter

	ClearBeforeInsert bool

	FieldMapping *FieldMapping // required when Direction == down
	TargetTable  string        // used when Direction == internal

	ValidationRules *ValidationRules

	PostUpdateQuery   string
	PostUpdateMapping *PostUpdateMapping

	LinkedGroup          string
	LinkedExecutionOrder int
	LinkedTasks          []string
	LinkingMetadata      LinkingMetadata

	NextTasks []string

	BonificationConfig *BonificationConfig

	BatchSize int // streaming mode batch size; 0 uses the engine default
	Timeout   time.Duration

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequiresFieldMapping reports whether a FieldMapping is mandatory for this task.
func (t *Task) RequiresFieldMapping() bool {
	return t.Direction == DirectionDown
}

// ExistenceKey resolves the validation existence key, falling back to the
// first target field per spec invariant I6.
func (t *Task) ExistenceKey() string {
	if t.ValidationRules != nil && t.ValidationRules.ExistenceCheck.Key != "" {
		return t.ValidationRules.ExistenceCheck.Key
	}
	if t.FieldMapping != nil && len(t.FieldMapping.TargetFields) > 0 {
		return t.FieldMapping.TargetFields[0]
	}
	return ""
}
