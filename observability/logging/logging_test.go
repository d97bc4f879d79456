package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("escrowd", "test", Options{Output: &buf})
	logger.Info("ledger ready", MaskField("rpc_token", "s3cret"), MaskField("op", "fundEscrow"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if line["service"] != "escrowd" || line["env"] != "test" || line["severity"] != "INFO" || line["message"] != "ledger ready" {
		t.Fatalf("unexpected envelope: %v", line)
	}
	if line["rpc_token"] != RedactedValue {
		t.Fatalf("secret leaked: %v", line["rpc_token"])
	}
	if line["op"] != "fundEscrow" {
		t.Fatalf("allowlisted key was masked: %v", line["op"])
	}
}
