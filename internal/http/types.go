// Package http provides the HTTP API for forged.
package http

// StartBuildRequest is the request body for POST /api/v1/builds.
type StartBuildRequest struct {
	Contract ContractRequest `json:"contract"`
	Tasks    []string        `json:"tasks"`
}

// ContractRequest is the intent contract as submitted by the operator.
// The server assigns the ID and locks it before the session starts.
type ContractRequest struct {
	Goal            string   `json:"goal"`
	SuccessCriteria []string `json:"success_criteria"`
	AntiPatterns    []string `json:"anti_patterns,omitempty"`
	Fingerprint     string   `json:"fingerprint,omitempty"`
}

// StartBuildResponse is the response body for POST /api/v1/builds.
type StartBuildResponse struct {
	SessionID    string `json:"session_id"`
	ContractID   string `json:"contract_id"`
	ContractHash string `json:"contract_hash"`
}

// ListBuildsResponse is the response body for GET /api/v1/builds.
type ListBuildsResponse struct {
	Sessions []string `json:"sessions"`
}

// DecisionRequest is the request body for POST /api/v1/builds/:id/decision.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Guidance string `json:"guidance,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
