package injection

// Action is the disposition the response handler assigns to a scan result.
type Action string

const (
	ActionBlock Action = "block"
	ActionAlert Action = "alert"
	ActionLog   Action = "log"
	ActionNone  Action = "none"
)

// Thresholds configures the block/alert/log cut points over the risk score.
type Thresholds struct {
	Block int // default 70
	Alert int // default 40
}

// DefaultThresholds matches spec.md §4.4's stated defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Block: 70, Alert: 40}
}

// Response is the outcome of routing a detector Result through Thresholds.
type Response struct {
	Action       Action
	AllowRequest bool
	AuditSeverity string // "critical", "high", "medium"
	Detail       AuditDetail
}

// AuditDetail caps what the response handler writes to the audit log:
// the top 10 findings (fragments already truncated to 50 chars by the
// detector) and the top 5 high-entropy fragments, per spec.md §4.4.
type AuditDetail struct {
	RiskScore       int
	TopFindings     []Finding
	TopHighEntropy  []Finding
}

// ResponseHandler maps a detector Result to a block/alert/log disposition.
type ResponseHandler struct {
	thresholds Thresholds
}

// NewResponseHandler constructs a ResponseHandler with the given thresholds.
func NewResponseHandler(t Thresholds) *ResponseHandler {
	return &ResponseHandler{thresholds: t}
}

// Handle determines the disposition for a scan Result. A risk score of zero
// (nothing detected) always resolves to ActionNone/allow.
func (h *ResponseHandler) Handle(result Result) Response {
	if result.RiskScore <= 0 {
		return Response{Action: ActionNone, AllowRequest: true}
	}

	sorted := sortBySeverityDesc(result.Findings)
	detail := AuditDetail{
		RiskScore:      result.RiskScore,
		TopFindings:    topN(sorted, 10),
		TopHighEntropy: topN(result.HighEntropy, 5),
	}

	switch {
	case result.RiskScore >= h.thresholds.Block:
		return Response{Action: ActionBlock, AllowRequest: false, AuditSeverity: "critical", Detail: detail}
	case result.RiskScore >= h.thresholds.Alert:
		return Response{Action: ActionAlert, AllowRequest: true, AuditSeverity: "high", Detail: detail}
	default:
		return Response{Action: ActionLog, AllowRequest: true, AuditSeverity: "medium", Detail: detail}
	}
}
