package multisig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateSigningMessage_SortedKeys(t *testing.T) {
	message := CreateSigningMessage("emergency_halt", map[string]interface{}{
		"modules": "dex,oracle",
		"reason":  "security incident",
	})

	assert.Equal(t, "operation=emergency_halt;modules=dex,oracle;reason=security incident", message)
}

func TestCreateSigningMessage_OrderIndependent(t *testing.T) {
	a := CreateSigningMessage("pause_module", map[string]interface{}{
		"module": "dex",
		"reason": "maintenance",
		"actor":  "ops@example.com",
	})
	b := CreateSigningMessage("pause_module", map[string]interface{}{
		"actor":  "ops@example.com",
		"reason": "maintenance",
		"module": "dex",
	})

	assert.Equal(t, a, b)
}

func TestCreateSigningMessage_NoParams(t *testing.T) {
	assert.Equal(t, "operation=emergency_resume_all", CreateSigningMessage("emergency_resume_all", nil))
}

func TestCreateSigningMessage_NonStringValues(t *testing.T) {
	message := CreateSigningMessage("override_params", map[string]interface{}{
		"max_leverage": 10,
		"enabled":      true,
	})

	assert.Equal(t, "operation=override_params;enabled=true;max_leverage=10", message)
}
