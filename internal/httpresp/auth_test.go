package httpresp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoginVerifyNilPoolFails(t *testing.T) {
	assert.False(t, LoginVerify(context.Background(), nil, "alice", "secret"))
}

func TestRegisterNilPoolFails(t *testing.T) {
	assert.False(t, Register(context.Background(), nil, "bob", "secret"))
}
