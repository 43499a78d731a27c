package rfp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputValidate(t *testing.T) {
	assert.Error(t, (&Input{}).Validate())
	assert.Error(t, (&Input{RFPID: "rfp-1"}).Validate())
	assert.NoError(t, (&Input{RFPID: "rfp-1", CustomerID: "cust-1"}).Validate())
}

func TestPayloadConversion(t *testing.T) {
	request := &PricingRequest{
		WorkflowID: "wf-1",
		RFPID:      "rfp-1",
		CustomerID: "cust-1",
		LineItems: []LineItem{
			{Description: "DN50 ball valve", ProductCode: "BV-50", Quantity: 500, Unit: "pcs"},
		},
		ValidatedProducts: []string{"BV-50"},
	}

	payload, err := ToPayload(request)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", payload["workflow_id"])

	var decoded PricingRequest
	require.NoError(t, FromPayload(payload, &decoded))
	assert.Equal(t, request.RFPID, decoded.RFPID)
	require.Len(t, decoded.LineItems, 1)
	assert.Equal(t, 500.0, decoded.LineItems[0].Quantity)
}

func TestFromPayloadTypeMismatch(t *testing.T) {
	var response PricingResponse
	err := FromPayload(map[string]interface{}{"total": "not a number"}, &response)
	assert.Error(t, err)
}

func TestToPayloadStatusField(t *testing.T) {
	payload, err := ToPayload(&ParsingResponse{Status: StatusFailed, Error: "unreadable document"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, payload["status"])
	assert.Equal(t, "unreadable document", payload["error"])
}
