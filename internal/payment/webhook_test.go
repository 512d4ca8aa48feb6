package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTopLevelShape(t *testing.T) {
	raw := []byte(`{"code":"00","status":"PAID","orderCode":"ord-123"}`)
	res, err := Normalize(raw)
	require.NoError(t, err)
	assert.True(t, res.IsPaid)
	assert.False(t, res.Terminal)
	assert.Equal(t, "ord-123", res.OrderCode)
	assert.Equal(t, "PAID", res.Status)
}

func TestNormalizeNestedShape(t *testing.T) {
	raw := []byte(`{"success":true,"data":{"code":"00","status":"paid","orderCode":4711}}`)
	res, err := Normalize(raw)
	require.NoError(t, err)
	assert.True(t, res.IsPaid)
	assert.Equal(t, "4711", res.OrderCode, "numeric order codes normalize to strings")
	assert.Equal(t, "PAID", res.Status)
}

func TestNormalizeTerminalFailure(t *testing.T) {
	for _, status := range []string{"CANCELLED", "EXPIRED", "FAILED", "cancelled"} {
		raw := []byte(`{"code":"99","status":"` + status + `","orderCode":"ord-9"}`)
		res, err := Normalize(raw)
		require.NoError(t, err)
		assert.False(t, res.IsPaid, status)
		assert.True(t, res.Terminal, status)
	}
}

func TestNormalizeInformationalEvent(t *testing.T) {
	// a pending notification is neither paid nor terminal
	raw := []byte(`{"code":"01","status":"PENDING","orderCode":"ord-5"}`)
	res, err := Normalize(raw)
	require.NoError(t, err)
	assert.False(t, res.IsPaid)
	assert.False(t, res.Terminal)
}

func TestNormalizeSuccessFlagWins(t *testing.T) {
	// an explicit success=false overrides a success-looking code
	raw := []byte(`{"success":false,"code":"00","status":"FAILED","orderCode":"ord-7"}`)
	res, err := Normalize(raw)
	require.NoError(t, err)
	assert.False(t, res.IsPaid)
	assert.True(t, res.Terminal)
}

func TestNormalizeEmptyPayload(t *testing.T) {
	res, err := Normalize([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, res.OrderCode)
	assert.False(t, res.IsPaid)
	assert.False(t, res.Terminal)
}

func TestNormalizeMalformedJSON(t *testing.T) {
	_, err := Normalize([]byte(`{not json`))
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	c := NewClient("http://localhost", "key", "checksum-secret", false)
	payload := []byte(`{"orderCode":"ord-123","status":"PAID"}`)

	assert.True(t, c.VerifySignature(payload, c.Sign(payload)))
	assert.False(t, c.VerifySignature(payload, "deadbeef"))
	assert.False(t, c.VerifySignature(payload, ""))

	tampered := append([]byte(nil), payload...)
	tampered[0] = ' '
	assert.False(t, c.VerifySignature(tampered, c.Sign(payload)))
}

func TestVerifySignatureSkipVerify(t *testing.T) {
	c := NewClient("http://localhost", "key", "checksum-secret", true)
	assert.True(t, c.VerifySignature([]byte("anything"), ""))
}
