package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

const body = `{"event":"invoice.paid","data":{"id":"inv_1"}}`

func TestRun_Sign(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"-secret", "s3cret"}, strings.NewReader(body), &out)
	require.NoError(t, err)

	assert.Equal(t, webhook.Sign("s3cret", []byte(body))+"\n", out.String())
}

func TestRun_SignCanonical(t *testing.T) {
	var out bytes.Buffer
	pretty := "{\n  \"event\": \"invoice.paid\",\n  \"data\": {\"id\": \"inv_1\"}\n}\n"

	err := run([]string{"-secret", "s3cret", "-canonical"}, strings.NewReader(pretty), &out)
	require.NoError(t, err)

	assert.Equal(t, webhook.Sign("s3cret", []byte(body))+"\n", out.String())
}

func TestRun_Verify(t *testing.T) {
	current := webhook.Sign("new", []byte(body))
	old := webhook.Sign("old", []byte(body))

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"current secret", []string{"-secret", "new", "-verify", current}, nil},
		{"previous secret in grace", []string{"-secret", "new", "-previous", "old", "-verify", old}, nil},
		{"previous secret not given", []string{"-secret", "new", "-verify", old}, errMismatch},
		{"garbage signature", []string{"-secret", "new", "-verify", "zz"}, errMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(tt.args, strings.NewReader(body), &out)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok\n", out.String())
		})
	}
}

func TestRun_RequiresSecret(t *testing.T) {
	err := run(nil, strings.NewReader(body), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRun_CanonicalRejectsInvalidJSON(t *testing.T) {
	err := run([]string{"-secret", "s", "-canonical"}, strings.NewReader("{nope"), &bytes.Buffer{})
	assert.Error(t, err)
}
