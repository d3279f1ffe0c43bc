package producer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/bundle"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/staging"
)

var key = []byte("producer-test-key")

func TestSeal_VerifiesOnConsumerSide(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	signer := cryptoutil.NewHMAC(key)

	b, err := Seal(context.Background(), map[string]any{"type": "order", "amount": 5}, "svc-a", signer, now)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := uuid.Parse(b.BundleID); err != nil {
		t.Errorf("bundleId %q is not a UUID: %v", b.BundleID, err)
	}
	if b.CreatedAt != "2024-01-01T00:00:00.000Z" {
		t.Errorf("createdAt = %q", b.CreatedAt)
	}
	if b.Producer != "svc-a" {
		t.Errorf("producer = %q", b.Producer)
	}

	ok, err := bundle.VerifyChecksum(b)
	if err != nil || !ok {
		t.Fatalf("checksum does not verify: %v", err)
	}
	canonical, _ := bundle.CanonicalPayload(b.Payload)
	if !cryptoutil.VerifySignature(canonical, b.Signature, key) {
		t.Fatal("signature does not verify")
	}
}

func TestSeal_UniqueIDs(t *testing.T) {
	signer := cryptoutil.NewHMAC(key)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		b, err := Seal(context.Background(), nil, "p", signer, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if seen[b.BundleID] {
			t.Fatalf("duplicate id %s", b.BundleID)
		}
		seen[b.BundleID] = true
	}
}

func TestSeal_RequiresProducerID(t *testing.T) {
	if _, err := Seal(context.Background(), nil, "", cryptoutil.NewHMAC(key), time.Now()); err == nil {
		t.Fatal("expected error")
	}
}

type failingSigner struct{}

func (failingSigner) SignMAC(context.Context, []byte) (string, error) {
	return "", errors.New("kms throttled")
}

func TestSeal_SignerError(t *testing.T) {
	if _, err := Seal(context.Background(), nil, "p", failingSigner{}, time.Now()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSave_RoundTripThroughValidate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	signer := cryptoutil.NewHMAC(key)

	for _, payload := range DemoPayloads(time.UnixMilli(1704067200123)) {
		b, err := Seal(context.Background(), payload, DefaultProducerID, signer, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		path, err := Save(dir, b)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if !staging.MatchName(filepath.Base(path)) {
			t.Fatalf("saved name %q does not match staging pattern", path)
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(raw), "\n  \"bundleId\"") {
			t.Errorf("bundle file is not indented")
		}
		got, err := bundle.Validate(raw)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if ok, _ := bundle.VerifyChecksum(got); !ok {
			t.Errorf("%s: checksum mismatch after round trip", path)
		}
		canonical, _ := bundle.CanonicalPayload(got.Payload)
		if !cryptoutil.VerifySignature(canonical, got.Signature, key) {
			t.Errorf("%s: signature mismatch after round trip", path)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Fatalf("staging holds %d entries, want 3", len(entries))
	}
}

func TestDemoPayloads_Types(t *testing.T) {
	var types []string
	for _, p := range DemoPayloads(time.Now()) {
		types = append(types, p["type"].(string))
	}
	if strings.Join(types, ",") != "metrics,event,config" {
		t.Fatalf("types = %v", types)
	}
}

func TestLoadPayloadFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	os.WriteFile(good, []byte(`{"type":"order","amount":1.50}`), 0o644)

	p, err := LoadPayloadFile(good)
	if err != nil {
		t.Fatalf("LoadPayloadFile: %v", err)
	}
	canonical, _ := bundle.CanonicalPayload(p)
	if string(canonical) != `{"amount":1.50,"type":"order"}` {
		t.Fatalf("canonical = %s", canonical)
	}

	for name, body := range map[string]string{
		"array.json": `[1]`,
		"null.json":  `null`,
		"bad.json":   `{`,
	} {
		path := filepath.Join(dir, name)
		os.WriteFile(path, []byte(body), 0o644)
		if _, err := LoadPayloadFile(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := LoadPayloadFile(filepath.Join(dir, "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
