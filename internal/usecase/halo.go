package usecase

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	cryptoinfra "github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/crypto"
)

// BuildDecisionChain links the five blocks of in. Each block hash is
// SHA256(canonical({"prev_hash": ..., "payload": ...})); the final hash is
// the hash of the output block.
func BuildDecisionChain(in domain.DecisionInput) (domain.DecisionChain, error) {
	if err := validateDecisionInput(in); err != nil {
		return domain.DecisionChain{}, err
	}
	payloads := in.Payloads()
	blocks := make([]domain.DecisionChainBlock, 0, len(payloads))
	var prev *string
	for i, payload := range payloads {
		hash, err := decisionBlockHash(prev, payload)
		if err != nil {
			return domain.DecisionChain{}, fmt.Errorf("hash block %d: %w", i+1, err)
		}
		blocks = append(blocks, domain.DecisionChainBlock{
			Index:    i + 1,
			Label:    domain.DecisionBlockLabels[i],
			PrevHash: prev,
			Payload:  payload,
			Hash:     hash,
		})
		linked := hash
		prev = &linked
	}
	return domain.DecisionChain{
		Blocks:    blocks,
		FinalHash: blocks[len(blocks)-1].Hash,
	}, nil
}

// VerifyDecisionChain recomputes the chain from in and compares it with the
// stored blocks.
func VerifyDecisionChain(in domain.DecisionInput, chain domain.DecisionChain) error {
	expected, err := BuildDecisionChain(in)
	if err != nil {
		return err
	}
	if len(chain.Blocks) != len(expected.Blocks) {
		return &domain.IntegrityError{
			Kind:   domain.ErrChainBroken,
			Detail: fmt.Sprintf("expected %d blocks, got %d", len(expected.Blocks), len(chain.Blocks)),
		}
	}
	for i, block := range chain.Blocks {
		want := expected.Blocks[i]
		if block.Index != want.Index || block.Label != want.Label {
			return &domain.IntegrityError{Kind: domain.ErrChainBroken, RecordID: want.Label, Index: want.Index, Detail: "block out of order"}
		}
		if i > 0 && (block.PrevHash == nil || *block.PrevHash != chain.Blocks[i-1].Hash) {
			return &domain.IntegrityError{
				Kind:     domain.ErrChainBroken,
				RecordID: want.Label,
				Index:    want.Index,
				Expected: chain.Blocks[i-1].Hash,
				Computed: derefString(block.PrevHash),
			}
		}
		if i == 0 && block.PrevHash != nil {
			return &domain.IntegrityError{Kind: domain.ErrChainBroken, RecordID: want.Label, Index: want.Index, Detail: "genesis block has a predecessor"}
		}
		stored, err := decisionBlockHash(block.PrevHash, block.Payload)
		if err != nil {
			return fmt.Errorf("hash stored block %d: %w", want.Index, err)
		}
		if stored != block.Hash {
			return &domain.IntegrityError{
				Kind:     domain.ErrHashMismatch,
				RecordID: want.Label,
				Index:    want.Index,
				Expected: block.Hash,
				Computed: stored,
				Detail:   "stored payload does not match stored hash",
			}
		}
		if !samePayload(block.Payload, want.Payload) {
			return &domain.IntegrityError{
				Kind:     domain.ErrHashMismatch,
				RecordID: want.Label,
				Index:    want.Index,
				Detail:   "stored payload differs from the decision input",
			}
		}
		if block.Hash != want.Hash {
			return &domain.IntegrityError{
				Kind:     domain.ErrHashMismatch,
				RecordID: want.Label,
				Index:    want.Index,
				Expected: block.Hash,
				Computed: want.Hash,
			}
		}
	}
	if chain.FinalHash != expected.FinalHash {
		return &domain.IntegrityError{Kind: domain.ErrHashMismatch, RecordID: "final_hash", Expected: chain.FinalHash, Computed: expected.FinalHash}
	}
	return nil
}

// DecisionMessage is the signed commitment to a decision chain.
func DecisionMessage(in domain.DecisionInput, finalHash string) (domain.CanonicalMessage, error) {
	return domain.NewCanonicalMessage(in.Genesis.TransactionID, in.Genesis.Timestamp, finalHash, in.PolicyModel.PolicyVersionHash)
}

// VerifyDecision rebuilds the chain from the typed input, checks the
// signature over the rebuilt commitment, then checks the stored blocks.
func VerifyDecision(decision domain.SignedDecision, pub *ecdsa.PublicKey) error {
	rebuilt, err := BuildDecisionChain(decision.Input)
	if err != nil {
		return err
	}
	msg, err := DecisionMessage(decision.Input, rebuilt.FinalHash)
	if err != nil {
		return err
	}
	env := domain.SignedEnvelope{CanonicalMessage: msg, Signature: decision.Envelope.Signature}
	if err := VerifyEnvelope(env, pub); err != nil {
		return err
	}
	if decision.Envelope.CanonicalMessage != msg {
		return &domain.IntegrityError{
			Kind:     domain.ErrHashMismatch,
			RecordID: decision.Input.Genesis.TransactionID,
			Expected: decision.Envelope.CanonicalMessage.FinalHash,
			Computed: msg.FinalHash,
			Detail:   "stored canonical message differs from rebuilt commitment",
		}
	}
	return VerifyDecisionChain(decision.Input, decision.Chain)
}

// DecisionRecorder evaluates governance policy, builds the decision chain
// and signs it for one tenant.
type DecisionRecorder struct {
	Keys   *KeyRegistry
	Policy PolicyEvaluator
	Logger *slog.Logger
}

func (r *DecisionRecorder) Record(ctx context.Context, tenant domain.TenantID, in domain.DecisionInput) (domain.SignedDecision, error) {
	signer, err := NewSigner(r.Keys, tenant)
	if err != nil {
		return domain.SignedDecision{}, err
	}
	var evaluation *domain.PolicyEvaluation
	if r.Policy != nil {
		result, err := r.Policy.Evaluate(ctx, policyInputFor(tenant, in))
		if err != nil {
			return domain.SignedDecision{}, fmt.Errorf("evaluate policy: %w", err)
		}
		in.PolicyModel.PolicyVersionHash = result.BundleHash
		in.PolicyModel.PolicyDecision = result.Decision()
		evaluation = &result
	}
	chain, err := BuildDecisionChain(in)
	if err != nil {
		return domain.SignedDecision{}, err
	}
	msg, err := DecisionMessage(in, chain.FinalHash)
	if err != nil {
		return domain.SignedDecision{}, err
	}
	env, err := signer.Sign(ctx, msg)
	if err != nil {
		return domain.SignedDecision{}, err
	}
	if r.Logger != nil {
		r.Logger.Info("decision recorded",
			"tenant_id", tenant.String(),
			"transaction_id", in.Genesis.TransactionID,
			"final_hash", chain.FinalHash,
			"policy_decision", in.PolicyModel.PolicyDecision,
			"key_id", env.Signature.KeyID,
		)
	}
	return domain.SignedDecision{
		TenantID:         tenant.String(),
		Input:            in,
		Chain:            chain,
		Envelope:         env,
		PolicyEvaluation: evaluation,
	}, nil
}

// Verify resolves the signing key inside tenant and verifies decision.
func (r *DecisionRecorder) Verify(ctx context.Context, tenant domain.TenantID, decision domain.SignedDecision) error {
	if err := tenant.Require(); err != nil {
		return err
	}
	if decision.TenantID != tenant.String() {
		return fmt.Errorf("%w: decision belongs to tenant %q", domain.ErrKeyNotFound, decision.TenantID)
	}
	key, err := r.Keys.GetKeyByID(ctx, tenant, decision.Envelope.Signature.KeyID)
	if err != nil {
		return err
	}
	if key == nil {
		return fmt.Errorf("%w: %s", domain.ErrKeyNotFound, decision.Envelope.Signature.KeyID)
	}
	return VerifyDecision(decision, key.Key)
}

func policyInputFor(tenant domain.TenantID, in domain.DecisionInput) domain.PolicyInput {
	return domain.PolicyInput{
		TenantID:          tenant.String(),
		Environment:       in.Genesis.Environment,
		FeatureTag:        in.Intent.FeatureTag,
		IntentManifest:    in.Intent.IntentManifest,
		PromptHash:        in.Inputs.PromptHash,
		RAGHash:           in.Inputs.RAGHash,
		MultimodalHash:    in.Inputs.MultimodalHash,
		ModelFingerprint:  in.PolicyModel.ModelFingerprint,
		ParameterSnapshot: in.PolicyModel.ParameterSnapshot,
	}
}

func decisionBlockHash(prev *string, payload map[string]any) (string, error) {
	var prevValue any
	if prev != nil {
		prevValue = *prev
	}
	return cryptoinfra.HashCanonical(map[string]any{
		"prev_hash": prevValue,
		"payload":   payload,
	})
}

func validateDecisionInput(in domain.DecisionInput) error {
	var missing []string
	if strings.TrimSpace(in.Genesis.TransactionID) == "" {
		missing = append(missing, "genesis.transaction_id")
	}
	if strings.TrimSpace(in.Genesis.Timestamp) == "" {
		missing = append(missing, "genesis.timestamp")
	}
	if strings.TrimSpace(in.Inputs.PromptHash) == "" {
		missing = append(missing, "inputs.prompt_hash")
	}
	if strings.TrimSpace(in.PolicyModel.PolicyVersionHash) == "" {
		missing = append(missing, "policy_model.policy_version_hash")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrInvalidInput, strings.Join(missing, ", "))
	}
	if !domain.IsHexDigest(in.PolicyModel.PolicyVersionHash) {
		return fmt.Errorf("%w: policy_version_hash must be a hex sha256 digest", domain.ErrInvalidInput)
	}
	return nil
}

// samePayload compares payloads by their canonical bytes, so a payload
// decoded from JSON matches the typed one it was built from.
func samePayload(a, b map[string]any) bool {
	ca, err := cryptoinfra.CanonicalizeAny(a)
	if err != nil {
		return false
	}
	cb, err := cryptoinfra.CanonicalizeAny(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
