package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
)

func TestBrowserSpoolsDocument(t *testing.T) {
	dir := t.TempDir()
	b := NewBrowser(config.Browser{SpoolDir: dir, Title: "Comanda"}, func(p []byte) string {
		return strings.ToUpper(string(p)) + "<script>"
	}, zap.NewNop())

	var ranName string
	var ranArgs []string
	b.run = func(ctx context.Context, name string, args ...string) error {
		ranName, ranArgs = name, args
		return nil
	}
	b.cfg.Command = []string{"lp", "-d", "kitchen"}

	if !b.Print(context.Background(), []byte("mesa: 4")) {
		t.Fatal("Print reported failure")
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("spool entries = %v, %v", entries, err)
	}
	path := filepath.Join(dir, entries[0].Name())
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	doc := string(body)
	if !strings.Contains(doc, "MESA: 4") || !strings.Contains(doc, "<title>Comanda</title>") {
		t.Errorf("document = %s", doc)
	}
	if strings.Contains(doc, "MESA: 4<script>") {
		t.Error("ticket text was not escaped")
	}
	if ranName != "lp" || len(ranArgs) != 3 || ranArgs[2] != path {
		t.Errorf("command = %s %v", ranName, ranArgs)
	}
}

func TestBrowserPrintSwallowsFailure(t *testing.T) {
	b := NewBrowser(config.Browser{SpoolDir: t.TempDir(), Command: []string{"lp"}}, func(p []byte) string { return string(p) }, zap.NewNop())
	b.run = func(ctx context.Context, name string, args ...string) error { return errors.New("no printer") }

	if b.Print(context.Background(), []byte("x")) {
		t.Error("Print should report false when the command fails")
	}
	var te *TransportError
	if err := b.Send(context.Background(), []byte("x")); !errors.As(err, &te) || te.Op != "print" {
		t.Errorf("Send err = %v", err)
	}
}
