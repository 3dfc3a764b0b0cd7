package domain

// Block labels of a decision chain, in chain order.
const (
	BlockGenesis     = "genesis"
	BlockIntent      = "intent"
	BlockInputs      = "inputs"
	BlockPolicyModel = "policy_model"
	BlockOutput      = "output"
)

var DecisionBlockLabels = [5]string{BlockGenesis, BlockIntent, BlockInputs, BlockPolicyModel, BlockOutput}

type GenesisBlock struct {
	TransactionID string `json:"transaction_id"`
	Timestamp     string `json:"timestamp"`
	Environment   string `json:"environment"`
	ClientID      string `json:"client_id"`
}

func (b GenesisBlock) Payload() map[string]any {
	return map[string]any{
		"transaction_id": b.TransactionID,
		"timestamp":      b.Timestamp,
		"environment":    b.Environment,
		"client_id":      b.ClientID,
	}
}

type IntentBlock struct {
	IntentManifest string `json:"intent_manifest"`
	FeatureTag     string `json:"feature_tag"`
	UserRef        string `json:"user_ref"`
}

func (b IntentBlock) Payload() map[string]any {
	return map[string]any{
		"intent_manifest": b.IntentManifest,
		"feature_tag":     b.FeatureTag,
		"user_ref":        b.UserRef,
	}
}

type InputsBlock struct {
	PromptHash     string  `json:"prompt_hash"`
	RAGHash        *string `json:"rag_hash"`
	MultimodalHash *string `json:"multimodal_hash"`
}

func (b InputsBlock) Payload() map[string]any {
	return map[string]any{
		"prompt_hash":     b.PromptHash,
		"rag_hash":        optionalString(b.RAGHash),
		"multimodal_hash": optionalString(b.MultimodalHash),
	}
}

type PolicyModelBlock struct {
	PolicyVersionHash string         `json:"policy_version_hash"`
	PolicyDecision    string         `json:"policy_decision"`
	ModelFingerprint  string         `json:"model_fingerprint"`
	ParameterSnapshot map[string]any `json:"parameter_snapshot"`
}

func (b PolicyModelBlock) Payload() map[string]any {
	snapshot := b.ParameterSnapshot
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	return map[string]any{
		"policy_version_hash": b.PolicyVersionHash,
		"policy_decision":     b.PolicyDecision,
		"model_fingerprint":   b.ModelFingerprint,
		"parameter_snapshot":  snapshot,
	}
}

type OutputBlock struct {
	ExecutionStatus string `json:"execution_status"`
	DecisionSummary string `json:"decision_summary"`
	OverrideFlag    bool   `json:"override_flag"`
}

func (b OutputBlock) Payload() map[string]any {
	return map[string]any{
		"execution_status": b.ExecutionStatus,
		"decision_summary": b.DecisionSummary,
		"override_flag":    b.OverrideFlag,
	}
}

// DecisionInput holds the typed content of all five blocks.
type DecisionInput struct {
	Genesis     GenesisBlock     `json:"genesis"`
	Intent      IntentBlock      `json:"intent"`
	Inputs      InputsBlock      `json:"inputs"`
	PolicyModel PolicyModelBlock `json:"policy_model"`
	Output      OutputBlock      `json:"output"`
}

// Payloads returns the block payloads in chain order.
func (in DecisionInput) Payloads() [5]map[string]any {
	return [5]map[string]any{
		in.Genesis.Payload(),
		in.Intent.Payload(),
		in.Inputs.Payload(),
		in.PolicyModel.Payload(),
		in.Output.Payload(),
	}
}

type DecisionChainBlock struct {
	Index    int            `json:"index"`
	Label    string         `json:"label"`
	PrevHash *string        `json:"prev_hash"`
	Payload  map[string]any `json:"payload"`
	Hash     string         `json:"hash"`
}

type DecisionChain struct {
	Blocks    []DecisionChainBlock `json:"blocks"`
	FinalHash string               `json:"final_hash"`
}

type SignedDecision struct {
	TenantID         string            `json:"tenant_id"`
	Input            DecisionInput     `json:"input"`
	Chain            DecisionChain     `json:"chain"`
	Envelope         SignedEnvelope    `json:"envelope"`
	PolicyEvaluation *PolicyEvaluation `json:"policy_evaluation,omitempty"`
}

func optionalString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
