package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckSameVersionOK(t *testing.T) {
	assert.NoError(t, Check(Compiler))
}

func TestCheckOlderMinorOK(t *testing.T) {
	assert.NoError(t, Check("0.0"))
}

func TestCheckMajorMismatchFails(t *testing.T) {
	assert.Error(t, Check("1.0"))
}

func TestCheckNewerMinorFails(t *testing.T) {
	assert.Error(t, Check("0.99"))
}

func TestCheckInvalidVersionFails(t *testing.T) {
	assert.Error(t, Check("not-a-version"))
}
