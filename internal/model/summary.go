package model

// Summary is the user-visible outcome of a scheduler run.
type Summary struct {
	Total             int      `json:"total"`
	Completed         int      `json:"completed"`
	Failed            int      `json:"failed"`
	SinkWarnings      int      `json:"sink_warnings"`
	PermanentlyFailed []RowKey `json:"permanently_failed,omitempty"`
	ElapsedSeconds    float64  `json:"elapsed_seconds"`
}
