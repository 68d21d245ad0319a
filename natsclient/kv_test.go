package natsclient

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKVErrorDetectors(t *testing.T) {
	assert.False(t, isKVNotFound(nil))
	assert.True(t, isKVNotFound(fmt.Errorf("nats: key not found")))
	assert.True(t, isKVNotFound(fmt.Errorf("API error 10037")))
	assert.False(t, isKVNotFound(fmt.Errorf("timeout")))

	assert.True(t, isKVKeyExists(fmt.Errorf("nats: key exists")))
	assert.True(t, isKVKeyExists(fmt.Errorf("API error 10058")))
	assert.False(t, isKVKeyExists(fmt.Errorf("timeout")))

	assert.True(t, isKVRevisionMismatch(fmt.Errorf("nats: wrong last sequence: 4")))
	assert.True(t, isKVRevisionMismatch(fmt.Errorf("API error 10071")))
	assert.False(t, isKVRevisionMismatch(fmt.Errorf("timeout")))
}
