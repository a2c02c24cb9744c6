package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sampleLogin struct {
	Username string `validate:"required,hubusername"`
	Password string `validate:"required"`
}

func TestStruct_AcceptsValidUsername(t *testing.T) {
	err := Struct(&sampleLogin{Username: "free_user", Password: "x"})
	assert.NoError(t, err)
}

func TestStruct_RejectsUsernameWithHyphen(t *testing.T) {
	err := Struct(&sampleLogin{Username: "free-user", Password: "x"})
	assert.Error(t, err)
}

func TestStruct_RejectsEmptyPassword(t *testing.T) {
	err := Struct(&sampleLogin{Username: "free_user", Password: ""})
	assert.Error(t, err)
}

func TestStruct_RejectsOverlongUsername(t *testing.T) {
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	err := Struct(&sampleLogin{Username: string(long), Password: "x"})
	assert.Error(t, err)
}
