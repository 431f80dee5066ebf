package backendtypes

// BlockRequest triggers the global request block
type BlockRequest struct {
	Reason string `json:"reason"`
}

// PurgeRequest runs the credential purge. With Consent set the user is asked
// to confirm first and Reason is shown to them.
type PurgeRequest struct {
	Consent bool   `json:"consent"`
	Reason  string `json:"reason,omitempty"`
}
