package main

import (
	"encoding/json"
	"io"
)

const (
	statusPass  = "PASS"
	statusFail  = "FAIL"
	statusError = "ERROR"
)

type outcome struct {
	Status string `json:"status"`
	Kind   string `json:"kind,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func writeOutcome(w io.Writer, out outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// report writes the PASS or FAIL outcome for a finished verification and
// returns errVerificationFailed on FAIL.
func report(w io.Writer, kind string, valid bool, result any) error {
	status := statusPass
	if !valid {
		status = statusFail
	}
	if err := writeOutcome(w, outcome{Status: status, Kind: kind, Result: result}); err != nil {
		return err
	}
	if !valid {
		return errVerificationFailed
	}
	return nil
}
