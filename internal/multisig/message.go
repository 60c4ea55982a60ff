package multisig

import (
	"fmt"
	"sort"
	"strings"
)

// CreateSigningMessage builds the deterministic byte string signers commit to.
// Parameter keys are sorted so the result is independent of map iteration
// order; two callers building the same logical operation always sign the same
// bytes.
func CreateSigningMessage(operation string, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("operation=")
	b.WriteString(operation)
	for _, k := range keys {
		b.WriteString(";")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(fmt.Sprintf("%v", params[k]))
	}

	return b.String()
}
