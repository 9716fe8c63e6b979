package checkout

import (
	"strconv"
	"strings"
)

const orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// newOrderNumber формирует "CMD-<unix millis>-<6 символов base36>".
// Уникальность не гарантируется генератором: её проверяет хранилище,
// а PlaceOrder генерирует номер заново при конфликте.
func (o *Orchestrator) newOrderNumber() string {
	var b strings.Builder
	b.Grow(4 + 13 + 1 + 6)
	b.WriteString("CMD-")
	b.WriteString(strconv.FormatInt(o.now().UnixMilli(), 10))
	b.WriteByte('-')
	for i := 0; i < 6; i++ {
		b.WriteByte(orderNumberAlphabet[o.intN(len(orderNumberAlphabet))])
	}
	return b.String()
}
