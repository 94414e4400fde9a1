package main

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/fonthenet/sihadz-sub014/internal/config"
	"github.com/fonthenet/sihadz-sub014/internal/domain/chifa"
	"github.com/fonthenet/sihadz-sub014/internal/platform/db"
)

// ---------------------------------------------------------------------------
// chifa split
// ---------------------------------------------------------------------------

func TestSplitLine_Standard(t *testing.T) {
	out, err := splitLine("100", "80", "80", 2, false, false, "bank", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ChifaAmount.StringFixed(2) != "128.00" {
		t.Errorf("chifa = %s, want 128.00", out.ChifaAmount)
	}
	if out.PatientAmount.StringFixed(2) != "72.00" {
		t.Errorf("patient = %s, want 72.00", out.PatientAmount)
	}
	if out.MajorationAmount.StringFixed(2) != "40.00" {
		t.Errorf("majoration = %s, want 40.00", out.MajorationAmount)
	}
}

func TestSplitLine_TarifDefaultsToPrice(t *testing.T) {
	out, err := splitLine("50", "", "80", 1, false, false, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ChifaAmount.StringFixed(2) != "40.00" || !out.MajorationAmount.IsZero() {
		t.Errorf("unexpected split: %+v", out.Split)
	}
	if out.Rounding != chifa.RoundBank {
		t.Errorf("rounding = %s, want bank", out.Rounding)
	}
}

func TestSplitLine_Errors(t *testing.T) {
	tests := []struct {
		name                         string
		price, tarif, rate, rounding string
		localRate                    string
		qty                          int
	}{
		{"bad price", "abc", "", "80", "bank", "", 1},
		{"bad tarif", "100", "x", "80", "bank", "", 1},
		{"bad rate", "100", "", "", "bank", "", 1},
		{"rate above 100", "100", "", "120", "bank", "", 1},
		{"unknown rounding", "100", "", "80", "ceil", "", 1},
		{"bad local rate", "100", "", "80", "bank", "y", 1},
		{"zero quantity", "100", "", "80", "bank", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := splitLine(tt.price, tt.tarif, tt.rate, tt.qty, false, false, tt.rounding, tt.localRate); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestChifaSplitCommand_PrintsJSON(t *testing.T) {
	cmd := chifaCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"split", "--unit-price", "100", "--tarif", "80", "--qty", "2", "--chronic"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	amount, _ := got["chifa_amount"].(string)
	if !decimal.RequireFromString(amount).Equal(decimal.NewFromInt(160)) || got["chronic"] != true {
		t.Errorf("unexpected output: %v", got)
	}
}

// ---------------------------------------------------------------------------
// wiring helpers
// ---------------------------------------------------------------------------

func TestChifaPolicy(t *testing.T) {
	p, err := chifaPolicy(&config.Config{ChifaRounding: "half_up", ChifaLocalProductRate: "100"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Rounding != chifa.RoundHalfUp {
		t.Errorf("rounding = %s", p.Rounding)
	}
	if !p.LocalProductRate.Valid || p.LocalProductRate.Decimal.String() != "100" {
		t.Errorf("local rate = %v", p.LocalProductRate)
	}

	if _, err := chifaPolicy(&config.Config{ChifaRounding: "up"}); err == nil {
		t.Error("expected error for unknown rounding")
	}
}

func TestAuthMiddleware_DevNeedsPharmacyID(t *testing.T) {
	if _, err := authMiddleware(&config.Config{Env: "development", DevPharmacyID: "nope"}); err == nil {
		t.Error("expected error for a malformed DEV_PHARMACY_ID")
	}
	mw, err := authMiddleware(&config.Config{Env: "development", DevPharmacyID: "00000000-0000-0000-0000-000000000001"})
	if err != nil || mw == nil {
		t.Fatalf("dev middleware: %v", err)
	}
	mw, err = authMiddleware(&config.Config{Env: "production", AuthIssuer: "https://id.example", AuthSigningKey: "secret"})
	if err != nil || mw == nil {
		t.Fatalf("jwt middleware: %v", err)
	}
}

func TestMigrationsFS_EmbeddedByDefault(t *testing.T) {
	files, err := fs.Glob(migrationsFS(""), "*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) < 3 {
		t.Errorf("expected the embedded migrations, got %v", files)
	}
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, "tenant_default", []db.MigrationStatus{
		{Version: 1, Name: "core", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "chifa"},
	})
	out := buf.String()
	if !strings.Contains(out, "2026-10-01 12:00:00") || !strings.Contains(out, "pending") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestCommandTree(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		subs []string
	}{
		{migrateCmd(), []string{"up", "status"}},
		{tenantCmd(), []string{"create"}},
		{chifaCmd(), []string{"split"}},
	}
	for _, tt := range tests {
		for _, sub := range tt.subs {
			if c, _, err := tt.cmd.Find([]string{sub}); err != nil || c.Name() != sub {
				t.Errorf("%s is missing subcommand %s", tt.cmd.Name(), sub)
			}
		}
	}
}
