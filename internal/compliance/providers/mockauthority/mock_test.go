package mockauthority

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/fakturo/internal/compliance/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateIssuesSyntheticToken(t *testing.T) {
	a := &Authority{}

	token, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mock-token", token.AccessToken)
	assert.False(t, token.Expired(time.Now()))
	assert.True(t, token.Expired(time.Now().Add(2*time.Hour)))
}

func TestSubmitIsDeterministic(t *testing.T) {
	a := &Authority{}
	req := domain.SubmitRequest{InvoiceNumber: "INV-20260101-0001", FormattedDocument: "<?xml?>"}

	first, err := a.Submit(context.Background(), req)
	require.NoError(t, err)
	second, err := a.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Success, second.Success)
	assert.Equal(t, first.SubmissionID, second.SubmissionID)
	assert.Equal(t, first.GovernmentID, second.GovernmentID)
}

func TestSubmitAcceptRate(t *testing.T) {
	a := &Authority{}

	// Sampling a fixed window of invoice numbers; the hash-based
	// rejection should land near one in ten.
	rejected := 0
	for i := 0; i < 100; i++ {
		req := domain.SubmitRequest{
			InvoiceNumber:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format("INV-20060102") + "-" + string(rune('A'+i%26)) + string(rune('A'+i/26)),
			FormattedDocument: "<?xml?>",
		}
		result, err := a.Submit(context.Background(), req)
		require.NoError(t, err)
		if !result.Success {
			rejected++
			assert.Equal(t, "REJECTED", result.Status)
			assert.NotEmpty(t, result.ValidationErrors)
		}
	}
	assert.Less(t, rejected, 30)
}

func TestValidateRejectsEmptyDocument(t *testing.T) {
	a := &Authority{}

	result, err := a.Validate(context.Background(), "   ")
	require.NoError(t, err)
	assert.False(t, result.Valid)

	result, err = a.Validate(context.Background(), "<?xml version=\"1.0\"?><Invoice/>")
	require.NoError(t, err)
	assert.True(t, result.Valid)
}
