package email

// Template names as constants for type safety.
const (
	TemplateFlowFailed = "flow_failed"
)

// FlowFailedData is the payload of a failure alert.
type FlowFailedData struct {
	RunID      string
	Target     string
	Outcome    string
	FailedStep string
	Error      string
	FinalURL   string
	ReportURL  string // empty when artifacts stay local
	Screenshot string // error screenshot URL or path
}
