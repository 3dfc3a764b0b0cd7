package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"

	"github.com/spf13/cobra"
)

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an integrity artifact without contacting the issuing service",
	}
	cmd.AddCommand(newVerifyCertificateCommand(opts))
	cmd.AddCommand(newVerifyBundleCommand(opts))
	cmd.AddCommand(newVerifyDecisionCommand(opts))
	cmd.AddCommand(newVerifyLedgerCommand(opts))
	cmd.AddCommand(newVerifyChainCommand(opts))
	return cmd
}

func newVerifyCertificateCommand(opts *rootOptions) *cobra.Command {
	var keyPath, previousPath string
	cmd := &cobra.Command{
		Use:   "certificate <certificate.json>",
		Short: "Verify one certificate record against a PEM public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.kind = "certificate"
			var record domain.CertificateRecord
			if err := decodeDocument(cmd.InOrStdin(), args[0], opts.Format, &record); err != nil {
				return err
			}
			key, err := loadPublicKey(cmd, keyPath, record.TenantID, record.Signature.KeyID)
			if err != nil {
				return err
			}
			var link *usecase.CertificateLink
			switch {
			case previousPath != "":
				var previous domain.CertificateRecord
				if err := decodeDocument(cmd.InOrStdin(), previousPath, opts.Format, &previous); err != nil {
					return err
				}
				link = &usecase.CertificateLink{Predecessor: &previous}
			case record.Seq <= 1:
				link = &usecase.CertificateLink{}
			}
			result := usecase.VerifyCertificate(record, key, link)
			return report(cmd.OutOrStdout(), opts.kind, result.Valid, result)
		},
	}
	cmd.Flags().StringVar(&keyPath, "public-key", "", "PEM encoded public key of the signing key")
	cmd.Flags().StringVar(&previousPath, "previous", "", "predecessor certificate, to check the chain link")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}

func newVerifyBundleCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bundle <evidence.json>",
		Short: "Verify a self-contained evidence bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.kind = "bundle"
			var bundle domain.EvidenceBundle
			if err := decodeDocument(cmd.InOrStdin(), args[0], opts.Format, &bundle); err != nil {
				return err
			}
			if strings.TrimSpace(bundle.PublicKeyPEM) == "" {
				return errors.New("evidence bundle carries no public key")
			}
			result, err := usecase.VerifyEvidence(bundle)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), opts.kind, result.Valid, result)
		},
	}
}

type decisionResult struct {
	Valid         bool   `json:"valid"`
	TransactionID string `json:"transaction_id"`
	FinalHash     string `json:"final_hash"`
	KeyID         string `json:"key_id"`
	Error         string `json:"error,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

func newVerifyDecisionCommand(opts *rootOptions) *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:   "decision <decision.json>",
		Short: "Verify a signed five-block decision chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.kind = "decision"
			var decision domain.SignedDecision
			if err := decodeDocument(cmd.InOrStdin(), args[0], opts.Format, &decision); err != nil {
				return err
			}
			key, err := loadPublicKey(cmd, keyPath, decision.TenantID, decision.Envelope.Signature.KeyID)
			if err != nil {
				return err
			}
			result := decisionResult{
				Valid:         true,
				TransactionID: decision.Input.Genesis.TransactionID,
				FinalHash:     decision.Chain.FinalHash,
				KeyID:         key.KeyID,
			}
			if err := usecase.VerifyDecision(decision, key.Key); err != nil {
				if !isTamper(err) {
					return err
				}
				result.Valid = false
				result.Error = domain.ErrorCode(err)
				result.Detail = err.Error()
			}
			return report(cmd.OutOrStdout(), opts.kind, result.Valid, result)
		},
	}
	cmd.Flags().StringVar(&keyPath, "public-key", "", "PEM encoded public key of the signing key")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}

func newVerifyLedgerCommand(opts *rootOptions) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "ledger <events.json>",
		Short: "Verify an exported audit ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.kind = "ledger"
			var events []domain.AuditEvent
			if err := decodeDocument(cmd.InOrStdin(), args[0], opts.Format, &events); err != nil {
				return err
			}
			if tenantID != "" {
				filtered := events[:0]
				for _, event := range events {
					if event.TenantID == tenantID {
						filtered = append(filtered, event)
					}
				}
				events = filtered
			}
			result := usecase.VerifyLedger(events)
			return report(cmd.OutOrStdout(), opts.kind, result.Valid, result)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "verify only this tenant's sub-chain")
	return cmd
}

func newVerifyChainCommand(opts *rootOptions) *cobra.Command {
	var keysPath string
	cmd := &cobra.Command{
		Use:   "chain <certificates.json>",
		Short: "Verify an exported certificate sequence of one tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.kind = "chain"
			var records []domain.CertificateRecord
			if err := decodeDocument(cmd.InOrStdin(), args[0], opts.Format, &records); err != nil {
				return err
			}
			if len(records) == 0 {
				return errors.New("certificate sequence is empty")
			}
			var infos []domain.PublicKeyInfo
			if err := decodeDocument(cmd.InOrStdin(), keysPath, opts.Format, &infos); err != nil {
				return err
			}
			tenantID := records[0].TenantID
			keys := make(map[string]*usecase.PublicKeyHandle, len(infos))
			for _, info := range infos {
				key, err := usecase.PublicKeyFromPEM(tenantID, info.PublicKeyPEM)
				if err != nil {
					return fmt.Errorf("key %s: %w", info.KeyID, err)
				}
				key.Status = info.Status
				keys[key.KeyID] = key
			}
			for _, record := range records {
				if _, ok := keys[record.Signature.KeyID]; !ok {
					return fmt.Errorf("%w: %s", domain.ErrKeyNotFound, record.Signature.KeyID)
				}
			}
			result := usecase.VerifyChainRecords(tenantID, records, keys)
			return report(cmd.OutOrStdout(), opts.kind, result.Valid, result)
		},
	}
	cmd.Flags().StringVar(&keysPath, "keys", "", "tenant public keys as returned by the keys endpoint")
	_ = cmd.MarkFlagRequired("keys")
	return cmd
}

// loadPublicKey reads a PEM key and checks that it is the key the artifact
// names. A different key is a missing key, which is an ERROR outcome.
func loadPublicKey(cmd *cobra.Command, path, tenantID, keyID string) (*usecase.PublicKeyHandle, error) {
	data, err := readInput(cmd.InOrStdin(), path)
	if err != nil {
		return nil, err
	}
	key, err := usecase.PublicKeyFromPEM(tenantID, string(data))
	if err != nil {
		return nil, err
	}
	if key.KeyID != keyID {
		return nil, fmt.Errorf("%w: public key %s does not match signing key %s", domain.ErrKeyNotFound, key.KeyID, keyID)
	}
	return key, nil
}

func isTamper(err error) bool {
	return errors.Is(err, domain.ErrSignatureInvalid) ||
		errors.Is(err, domain.ErrHashMismatch) ||
		errors.Is(err, domain.ErrChainBroken)
}
