package ticket

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pizza-nz/print-agent/internal/models"
)

const (
	separator   = "================================"
	unnamedItem = "Producto sin nombre"
)

// Item names containing any of these are packaging or delivery charges and
// never reach the kitchen.
var excludedTerms = []string{"delivery", "domicilio", "envío", "taper"}

// Format renders the kitchen ticket for order. Only the fields the kitchen
// needs are printed. Items are printed in the order given.
func Format(order *models.Order) []byte {
	b := &Builder{}
	b.Init().Feed(2)

	b.Bold(true).Size(SizeDoubleHeight).Align(AlignCenter).
		Line("COCINA").
		Bold(false).Size(SizeNormal).Feed(1)

	if order.IsDelivery {
		b.Bold(true).Size(SizeMega).Align(AlignCenter).
			Line("PARA LLEVAR").
			Bold(false).Size(SizeNormal)
	} else if header := tableHeader(order.TableNumbers()); header != "" {
		b.Bold(true).Size(SizeDoubleHeight).Align(AlignCenter).
			Line(header).
			Bold(false).Size(SizeNormal)
	}
	b.Feed(1)

	if order.IsDelivery && order.CustomerName != "" {
		b.Bold(true).Size(SizeDoubleHeight).Align(AlignCenter).
			Line("CLIENTE: " + order.CustomerName).
			Bold(false).Size(SizeNormal)
	}

	b.Feed(2).Align(AlignCenter).Line(separator).Feed(1)
	b.Align(AlignLeft).Bold(true).Line("PRODUCTOS:").Bold(false).Feed(1)

	for _, item := range order.Items {
		name, ok := ItemLabel(item)
		if !ok {
			continue
		}
		b.Bold(true).Size(SizeDoubleHeight).
			Line(fmt.Sprintf("%d  %s", item.Quantity, name)).
			Bold(false).Size(SizeNormal)
		if strings.TrimSpace(item.Comment) != "" {
			b.Bold(true).Line("   >> " + item.Comment).Bold(false)
		}
		b.Feed(1)
	}

	b.Align(AlignCenter).Line(separator).Feed(3).Cut()
	return b.Bytes()
}

// ItemLabel returns the printed name of an item, or false when the item is
// excluded from kitchen tickets.
func ItemLabel(item models.OrderItem) (string, bool) {
	name := item.Name
	if name == "" && item.Product != nil {
		name = item.Product.Name
	}
	if name == "" {
		name = unnamedItem
	}

	lower := strings.ToLower(name)
	for _, term := range excludedTerms {
		if strings.Contains(lower, term) {
			return "", false
		}
	}

	name = strings.TrimSuffix(name, " (Personal)")
	name = strings.TrimSuffix(name, " (Fuente)")
	if item.PriceType == models.PriceTypeFuente {
		name = "F. " + name
	}
	return name, true
}

// PrintableItems counts the items Format would print.
func PrintableItems(items []models.OrderItem) int {
	n := 0
	for _, item := range items {
		if _, ok := ItemLabel(item); ok {
			n++
		}
	}
	return n
}

func tableHeader(tables []int) string {
	switch len(tables) {
	case 0:
		return ""
	case 1:
		return "MESA: " + strconv.Itoa(tables[0])
	}
	sorted := append([]int(nil), tables...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, n := range sorted {
		parts[i] = strconv.Itoa(n)
	}
	return "MESAS: " + strings.Join(parts, ", ")
}

// TestPage renders a short page used to check a printer is reachable.
func TestPage(role models.Role, now time.Time) []byte {
	b := &Builder{}
	b.Init().Feed(1).
		Align(AlignCenter).Bold(true).Size(SizeDoubleHeight).
		Line("PRUEBA DE IMPRESION").
		Bold(false).Size(SizeNormal).Feed(1).
		Line("Impresora: " + strings.ToUpper(string(role))).
		Line(now.Format("2006-01-02 15:04:05")).
		Line(separator).
		Feed(3).Cut()
	return b.Bytes()
}
