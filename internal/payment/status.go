package payment

import "strings"

// StatusMap translates provider-native status tokens into canonical
// statuses. It is immutable after construction.
type StatusMap struct {
	table map[string]TransactionStatus
}

func NewStatusMap(m map[string]TransactionStatus) StatusMap {
	table := make(map[string]TransactionStatus, len(m))
	for k, v := range m {
		table[normalizeToken(k)] = v
	}
	return StatusMap{table: table}
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Normalize never fails: unmapped tokens yield StatusUnknown. Canonical
// status names are accepted as-is when the table does not override them.
func (m StatusMap) Normalize(raw string) TransactionStatus {
	token := normalizeToken(raw)
	if s, ok := m.table[token]; ok {
		return s
	}
	if s := TransactionStatus(token); s.Valid() {
		return s
	}
	return StatusUnknown
}

// Annotate records the provider-native status next to its canonical value
// so unmapped tokens stay diagnosable.
func (m StatusMap) Annotate(raw string, metadata map[string]any) (TransactionStatus, map[string]any) {
	status := m.Normalize(raw)
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["provider_status"] = raw
	return status, metadata
}
