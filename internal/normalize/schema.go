package normalize

// Role is the semantic role assigned to a column.
type Role string

const (
	RoleNumeric     Role = "numeric"
	RoleCategorical Role = "categorical"
	RoleDatetime    Role = "datetime"
	RoleBoolean     Role = "boolean"
	RoleIdentifier  Role = "identifier"
)

// Grain is the temporal granularity detected for a dataset.
type Grain string

const (
	GrainYearMonth   Grain = "year_month"
	GrainYearQuarter Grain = "year_quarter"
	GrainYear        Grain = "year"
	GrainNone        Grain = "none"
)

// Coercion counter keys recorded per column.
const (
	CoercionCurrencyRemoved        = "currency_removed"
	CoercionParenthesesToNegative  = "parentheses_to_negative"
	CoercionScalingApplied         = "scaling_applied"
	CoercionPercentNormalized      = "percent_normalized"
	CoercionDatetimeParsed         = "datetime_parsed"
	CoercionBooleanCoerced         = "boolean_coerced"
	CoercionFailedNumeric          = "failed_numeric"
	CoercionUnicodeMinusNormalized = "unicode_minus_normalized"
)

// ColumnSchema describes one normalized column.
type ColumnSchema struct {
	Name               string         `json:"name"`
	OriginalName       string         `json:"original_name"`
	Dtype              string         `json:"dtype"`
	Role               Role           `json:"role"`
	Cardinality        int            `json:"cardinality"`
	NullRate           float64        `json:"null_rate"`
	Coercions          map[string]int `json:"coercions"`
	Anomalies          map[string]any `json:"anomalies,omitempty"`
	DecimalConvention  string         `json:"decimal_convention,omitempty"`
	CurrenciesDetected []string       `json:"currencies_detected,omitempty"`
	MultiCurrency      bool           `json:"multi_currency,omitempty"`
}

// Metadata carries dataset-level detection results.
type Metadata struct {
	RowCount           int      `json:"row_count"`
	ColumnCount        int      `json:"column_count"`
	MultiCurrency      bool     `json:"multi_currency"`
	CurrenciesDetected []string `json:"currencies_detected"`
	HasTimeDimension   bool     `json:"has_time_dimension"`
}

// Schema is the persisted schema document for a dataset.
type Schema struct {
	DatasetID             string         `json:"dataset_id"`
	GeneratedAt           string         `json:"generated_at"`
	Columns               []ColumnSchema `json:"columns"`
	PeriodGrain           Grain          `json:"period_grain"`
	PeriodGrainCandidates []Grain        `json:"period_grain_candidates"`
	TimeCandidates        []string       `json:"time_candidates"`
	SelectedTimeColumn    string         `json:"selected_time_column,omitempty"`
	Warnings              []string       `json:"warnings"`
	Notes                 []string       `json:"notes"`
	Metadata              Metadata       `json:"metadata"`
}

// Column looks up a column schema by normalized name.
func (s *Schema) Column(name string) (*ColumnSchema, bool) {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i], true
		}
	}
	return nil, false
}
