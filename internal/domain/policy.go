package domain

const (
	PolicyDecisionAllow = "allow"
	PolicyDecisionDeny  = "deny"
)

// PolicyInput is the document the governance bundle is evaluated against.
// It carries hashes and labels only.
type PolicyInput struct {
	TenantID          string         `json:"tenant_id"`
	Environment       string         `json:"environment"`
	FeatureTag        string         `json:"feature_tag"`
	IntentManifest    string         `json:"intent_manifest"`
	PromptHash        string         `json:"prompt_hash"`
	RAGHash           *string        `json:"rag_hash"`
	MultimodalHash    *string        `json:"multimodal_hash"`
	ModelFingerprint  string         `json:"model_fingerprint"`
	ParameterSnapshot map[string]any `json:"parameter_snapshot"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}

type PolicyEvaluation struct {
	BundleID   string       `json:"bundle_id,omitempty"`
	BundleHash string       `json:"bundle_hash"`
	InputHash  string       `json:"input_hash,omitempty"`
	Result     PolicyResult `json:"result"`
}

func (e PolicyEvaluation) Decision() string {
	if e.Result.Allow {
		return PolicyDecisionAllow
	}
	return PolicyDecisionDeny
}
