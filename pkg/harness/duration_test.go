package harness

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDurationJSON(t *testing.T) {
	var doc struct {
		Timeout Duration `json:"timeout"`
	}
	if err := json.Unmarshal([]byte(`{"timeout":"1m30s"}`), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Timeout.Duration() != 90*time.Second {
		t.Fatalf("timeout = %s", doc.Timeout)
	}

	if err := json.Unmarshal([]byte(`{"timeout":5000000000}`), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Timeout.Duration() != 5*time.Second {
		t.Fatalf("timeout = %s", doc.Timeout)
	}

	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"timeout":"5s"}` {
		t.Fatalf("marshal = %s", b)
	}

	if err := json.Unmarshal([]byte(`{"timeout":"potato"}`), &doc); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDurationYAML(t *testing.T) {
	var doc struct {
		Timeout Duration `yaml:"timeout"`
	}
	if err := yaml.Unmarshal([]byte("timeout: 2.5s"), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Timeout.Duration() != 2500*time.Millisecond {
		t.Fatalf("timeout = %s", doc.Timeout)
	}

	if err := yaml.Unmarshal([]byte("timeout: 1500000000"), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Timeout.Duration() != 1500*time.Millisecond {
		t.Fatalf("timeout = %s", doc.Timeout)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var back struct {
		Timeout Duration `yaml:"timeout"`
	}
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if back.Timeout != doc.Timeout {
		t.Fatalf("round trip = %s, want %s", back.Timeout, doc.Timeout)
	}
}
