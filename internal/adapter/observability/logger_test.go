package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/intelletix/sudbury-directory/internal/config"
)

func TestSetupLogger_DevAndProd(t *testing.T) {
	lg := SetupLogger(config.Config{AppEnv: "dev", OTELServiceName: "svc"})
	if lg == nil {
		t.Fatalf("nil logger")
	}
	lg2 := SetupLogger(config.Config{AppEnv: "prod", OTELServiceName: "svc"})
	if lg2 == nil {
		t.Fatalf("nil logger prod")
	}
	if SetupClientLogger(config.ClientConfig{AppEnv: "test"}) == nil {
		t.Fatalf("nil client logger")
	}
}

func TestNewLogger_WritesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, false, "svc", "production", "1.2.3").Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if line["service"] != "svc" || line["env"] != "production" || line["version"] != "1.2.3" {
		t.Fatalf("unexpected fields: %v", line)
	}
}
