package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const truckstopSuccessBody = `Hello,

Your integration request has been completed.

IntegrationID: 789
API Username: user1
API Password: pw1
Customer: Acme Inc

Regards,
Truckstop Onboarding`

func TestClassifyTruckstopSuccess(t *testing.T) {
	reply := Classify("RE: Truckstop activation SUCCESS", truckstopSuccessBody)
	require.NotNil(t, reply)

	assert.Equal(t, ProviderTruckstop, reply.Provider)
	assert.True(t, reply.Success)
	assert.Equal(t, map[string]string{
		"IntegrationID": "789",
		"Username":      "user1",
		"Password":      "pw1",
		"Customer":      "Acme Inc",
	}, reply.Fields)
	assert.Equal(t, truckstopSuccessBody, reply.RawBody)
}

func TestClassifyTruckstopRejection(t *testing.T) {
	body := "We could not complete your request.\nReason: Invalid MC number\nCustomer: Acme Inc\n"
	reply := Classify("RE: Truckstop activation", body)
	require.NotNil(t, reply)

	assert.Equal(t, ProviderTruckstop, reply.Provider)
	assert.False(t, reply.Success)
	assert.Equal(t, map[string]string{
		"Reason":   "Invalid MC number",
		"Customer": "Acme Inc",
	}, reply.Fields)
}

func TestClassifyUnrecognizedVendor(t *testing.T) {
	assert.Nil(t, Classify("Your weekly newsletter", "nothing relevant"))
	assert.Nil(t, Classify("Invoice overdue SUCCESS", "Customer: Acme Inc"))
}

func TestClassifyMalformedBody(t *testing.T) {
	// Provider recognized, but the success pattern cannot extract the
	// required fields: indistinguishable from an unrecognized reply.
	reply := Classify("Truckstop SUCCESS", "Thanks for reaching out, we'll get back to you.")
	assert.Nil(t, reply)

	// Incomplete body: missing the password line.
	reply = Classify("Truckstop SUCCESS", "IntegrationID: 789\nAPI Username: user1\nCustomer: Acme Inc")
	assert.Nil(t, reply)
}

func TestClassifyCaseInsensitiveAndMultiline(t *testing.T) {
	body := "customer: Acme Inc\n\nintegrationid: 42\napi username: u\napi password: p\n"
	reply := Classify("re: TRUCKSTOP request success", body)
	require.NotNil(t, reply)

	assert.True(t, reply.Success)
	assert.Equal(t, "42", reply.Fields["IntegrationID"])
	assert.Equal(t, "Acme Inc", reply.Fields["Customer"])
}

func TestClassifyDATSharedAccount(t *testing.T) {
	// DAT may provision against a shared service account and omit the
	// per-company password; the reply still classifies.
	body := "Integration ID: 555\nService Account: dat-svc\nCustomer: Acme Inc\n"
	reply := Classify("DAT onboarding SUCCESS", body)
	require.NotNil(t, reply)

	assert.Equal(t, ProviderDAT, reply.Provider)
	assert.True(t, reply.Success)
	assert.Equal(t, "dat-svc", reply.Fields["Username"])
	_, hasPassword := reply.Fields["Password"]
	assert.False(t, hasPassword)
}

func TestClassifyDATRejection(t *testing.T) {
	reply := Classify("DAT onboarding result", "Reason: duplicate account\nCustomer: Acme Inc")
	require.NotNil(t, reply)
	assert.Equal(t, ProviderDAT, reply.Provider)
	assert.False(t, reply.Success)
	assert.Equal(t, "duplicate account", reply.Fields["Reason"])
}

func TestClassifyIsDeterministic(t *testing.T) {
	a := Classify("Truckstop SUCCESS", truckstopSuccessBody)
	b := Classify("Truckstop SUCCESS", truckstopSuccessBody)
	assert.Equal(t, a, b)
}
