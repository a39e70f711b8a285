package harness

// OutputRecord is one projected call in a scenario result.
type OutputRecord struct {
	Key        string `json:"key"`
	Parent     string `json:"parent"`
	Cumulative int64  `json:"cumulative"`
	Exclusive  int64  `json:"exclusive"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and check held.
	Pass bool `json:"pass"`

	// Records lists the projected calls in output order.
	Records []OutputRecord `json:"records"`

	// Anomalies and Orphans list path keys in tree order.
	Anomalies []string `json:"anomalies"`
	Orphans   []string `json:"orphans"`

	// BuildError is the code of the build error, when the tree was rejected.
	BuildError string `json:"build_error,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Records:   []OutputRecord{},
		Anomalies: []string{},
		Orphans:   []string{},
		Errors:    []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Total returns the sum of exclusive steps over all records.
func (r *Result) Total() int64 {
	var total int64
	for _, rec := range r.Records {
		total += rec.Exclusive
	}
	return total
}
