package ticket

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pizza-nz/print-agent/internal/models"
)

var (
	initCmd     = []byte{0x1B, 0x40}
	boldOn      = []byte{0x1B, 0x45, 0x01}
	boldOff     = []byte{0x1B, 0x45, 0x00}
	center      = []byte{0x1B, 0x61, 0x01}
	left        = []byte{0x1B, 0x61, 0x00}
	normal      = []byte{0x1B, 0x21, 0x00}
	doubleH     = []byte{0x1B, 0x21, 0x10}
	mega        = []byte{0x1B, 0x21, 0x3F}
	cut         = []byte{0x1D, 0x56, 0x00}
	separatorLn = "================================\n"
)

func join(parts ...any) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		switch v := p.(type) {
		case []byte:
			buf.Write(v)
		case string:
			buf.WriteString(v)
		}
	}
	return buf.Bytes()
}

func TestFormatDineInExactBytes(t *testing.T) {
	order := &models.Order{
		Tables: []models.Table{{Number: 5}, {Number: 2}},
		Items: []models.OrderItem{
			{Quantity: 2, Name: "Ceviche (Personal)", Comment: "sin cebolla"},
		},
	}

	want := join(
		initCmd, "\n\n",
		boldOn, doubleH, center, "COCINA\n", boldOff, normal, "\n",
		boldOn, doubleH, center, "MESAS: 2, 5\n", boldOff, normal,
		"\n",
		"\n\n", center, separatorLn, "\n",
		left, boldOn, "PRODUCTOS:\n", boldOff, "\n",
		boldOn, doubleH, "2  Ceviche\n", boldOff, normal,
		boldOn, "   >> sin cebolla\n", boldOff,
		"\n",
		center, separatorLn, "\n\n\n", cut,
	)

	got := Format(order)
	if !bytes.Equal(got, want) {
		t.Fatalf("ticket mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestFormatDeliveryBanner(t *testing.T) {
	order := &models.Order{
		IsDelivery:   true,
		CustomerName: "Ana",
		Tables:       []models.Table{{Number: 9}},
		Items:        []models.OrderItem{{Quantity: 1, Name: "Lomo saltado"}},
	}

	got := Format(order)
	banner := join(boldOn, mega, center, "PARA LLEVAR\n", boldOff, normal)
	if !bytes.Contains(got, banner) {
		t.Errorf("missing delivery banner in %q", got)
	}
	if !bytes.Contains(got, join(boldOn, doubleH, center, "CLIENTE: Ana\n")) {
		t.Errorf("missing customer line in %q", got)
	}
	if bytes.Contains(got, []byte("MESA")) {
		t.Errorf("delivery ticket must not print tables: %q", got)
	}
}

func TestFormatSingleTableAndNoCustomerForDineIn(t *testing.T) {
	order := &models.Order{
		CustomerName: "Luis",
		Tables:       []models.Table{{Number: 7}},
		Items:        []models.OrderItem{{Quantity: 1, Name: "Chaufa"}},
	}
	got := string(Format(order))
	if !strings.Contains(got, "MESA: 7\n") {
		t.Errorf("expected single table header, got %q", got)
	}
	if strings.Contains(got, "CLIENTE") {
		t.Errorf("customer must only print on delivery tickets: %q", got)
	}
}

func TestFormatNoTablesNoBanner(t *testing.T) {
	got := string(Format(&models.Order{Items: []models.OrderItem{{Quantity: 1, Name: "x"}}}))
	if strings.Contains(got, "MESA") || strings.Contains(got, "PARA LLEVAR") {
		t.Errorf("unexpected banner: %q", got)
	}
}

func TestItemLabel(t *testing.T) {
	tests := []struct {
		name   string
		item   models.OrderItem
		want   string
		wantOK bool
	}{
		{"plain", models.OrderItem{Name: "Ceviche"}, "Ceviche", true},
		{"product fallback", models.OrderItem{Product: &models.Product{Name: "Tallarin"}}, "Tallarin", true},
		{"unnamed", models.OrderItem{}, "Producto sin nombre", true},
		{"personal suffix", models.OrderItem{Name: "Arroz (Personal)"}, "Arroz", true},
		{"fuente suffix and prefix", models.OrderItem{Name: "Arroz (Fuente)", PriceType: models.PriceTypeFuente}, "F. Arroz", true},
		{"suffix only at end", models.OrderItem{Name: "Jalea (Personal) extra"}, "Jalea (Personal) extra", true},
		{"delivery excluded", models.OrderItem{Name: "Costo Delivery"}, "", false},
		{"domicilio excluded", models.OrderItem{Name: "Envio a DOMICILIO"}, "", false},
		{"envio accent excluded", models.OrderItem{Name: "ENVÍO"}, "", false},
		{"taper excluded", models.OrderItem{Name: "Taper grande"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ItemLabel(tt.item)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ItemLabel() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestFormatSkipsExcludedAndKeepsOrder(t *testing.T) {
	order := &models.Order{
		Tables: []models.Table{{Number: 1}},
		Items: []models.OrderItem{
			{Quantity: 1, Name: "B"},
			{Quantity: 1, Name: "Taper"},
			{Quantity: 3, Name: "A"},
		},
	}
	got := string(Format(order))
	if strings.Contains(got, "Taper") {
		t.Fatalf("excluded item printed: %q", got)
	}
	b, a := strings.Index(got, "1  B"), strings.Index(got, "3  A")
	if b < 0 || a < 0 || b > a {
		t.Fatalf("items out of order: %q", got)
	}
	if n := PrintableItems(order.Items); n != 2 {
		t.Errorf("PrintableItems = %d, want 2", n)
	}
}

func TestFormatBlankCommentOmitted(t *testing.T) {
	got := Format(&models.Order{Items: []models.OrderItem{{Quantity: 1, Name: "x", Comment: "   "}}})
	if bytes.Contains(got, []byte(">>")) {
		t.Errorf("blank comment printed: %q", got)
	}
}

func TestFormatCommentAndCustomerPrintedVerbatim(t *testing.T) {
	order := &models.Order{
		IsDelivery:   true,
		CustomerName: "  ",
		Items:        []models.OrderItem{{Quantity: 1, Name: "Chaufa", Comment: "  sin sillao "}},
	}
	got := Format(order)
	if !bytes.Contains(got, join(boldOn, "   >>   sin sillao \n", boldOff)) {
		t.Errorf("comment not printed as given: %q", got)
	}
	if !bytes.Contains(got, []byte("CLIENTE:   \n")) {
		t.Errorf("non-empty customer name not printed: %q", got)
	}
}

func TestFormatDeterministic(t *testing.T) {
	order := &models.Order{
		Tables:       []models.Table{{Number: 12}, {Number: 3}, {Number: 7}},
		CustomerName: "Rosa",
		Items: []models.OrderItem{
			{Quantity: 1, Name: "Arroz con mariscos (Fuente)", PriceType: models.PriceTypeFuente, Comment: "bien cocido"},
			{Quantity: 3, Name: "Inca Kola"},
			{Quantity: 1, Name: "Taper"},
		},
	}
	tablesBefore := order.TableNumbers()

	first := Format(order)
	second := Format(order)
	if !bytes.Equal(first, second) {
		t.Fatalf("Format is not deterministic\nfirst:  %q\nsecond: %q", first, second)
	}
	if !bytes.Contains(first, []byte("MESAS: 3, 7, 12\n")) {
		t.Errorf("tables not sorted: %q", first)
	}
	after := order.TableNumbers()
	for i := range tablesBefore {
		if after[i] != tablesBefore[i] {
			t.Fatalf("Format reordered the order's tables: %v", after)
		}
	}
}

func TestPlainText(t *testing.T) {
	order := &models.Order{Tables: []models.Table{{Number: 3}}, Items: []models.OrderItem{{Quantity: 2, Name: "Ceviche"}}}
	text := PlainText(Format(order))
	for _, want := range []string{"COCINA\n", "MESA: 3\n", "2  Ceviche\n"} {
		if !strings.Contains(text, want) {
			t.Errorf("plain text missing %q: %q", want, text)
		}
	}
	if strings.ContainsAny(text, "\x1b\x1d") {
		t.Errorf("control bytes left in %q", text)
	}
}

func TestTestPage(t *testing.T) {
	page := TestPage(models.RoleKitchen, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	if !bytes.HasPrefix(page, initCmd) || !bytes.HasSuffix(page, cut) {
		t.Fatalf("test page must start with init and end with cut: %q", page)
	}
	if !bytes.Contains(page, []byte("KITCHEN")) || !bytes.Contains(page, []byte("2024-01-02 03:04:05")) {
		t.Errorf("test page content: %q", page)
	}
}
