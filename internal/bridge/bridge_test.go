package bridge

import (
	"testing"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outboundSession(record *domain.CallRecord, params map[string]string) *session {
	return &session{
		bridge:    &Bridge{},
		streamSID: "MZ1",
		callSID:   "CA1",
		params:    params,
		record:    record,
	}
}

func TestDynamicVariables_Outbound(t *testing.T) {
	s := outboundSession(&domain.CallRecord{
		AvailableSlots: "Venerdì 21-03-2025: 10:00\nSales Rep: U1",
		SlotLayout:     domain.SlotLayoutSingle,
		Province:       "RM",
	}, map[string]string{
		"firstName": "Mario",
		"fullName":  "Mario Rossi",
		"email":     "mario@example.com",
		"phone":     "+390612345678",
		"contactId": "C1",
		"service":   "Infissi",
	})

	vars, firstMessage := s.dynamicVariables()
	assert.Equal(t, "Mario", vars["firstName"])
	assert.Equal(t, "C1", vars["contactId"])
	assert.Equal(t, "Ristrutturiamolo", vars["businessName"])
	assert.Equal(t, "RM", vars["province"])
	assert.Contains(t, vars["availableSlots"], "Sales Rep: U1")
	assert.NotEmpty(t, vars["nowDate"])
	assert.Empty(t, firstMessage)
	_, hasPast := vars["pastCallSummary"]
	assert.False(t, hasPast)
}

func TestDynamicVariables_BusinessNamePerService(t *testing.T) {
	for service, want := range map[string]string{
		"Infissi": "Ristrutturiamolo",
		"Vetrate": "UNICOVETRATE",
		"Pergole": "UNICOVETRATE",
	} {
		s := outboundSession(nil, map[string]string{"service": service})
		vars, _ := s.dynamicVariables()
		assert.Equal(t, want, vars["businessName"], service)
	}
}

func TestDynamicVariables_AbruptRetry(t *testing.T) {
	s := outboundSession(nil, map[string]string{
		"firstName":              "Mario",
		"service":                "Vetrate",
		"isAbruptEndingRetry":    "true",
		"pastCallSummary":        "Interessato alle vetrate, linea caduta",
		"originalConversationId": "conv-old",
	})

	vars, firstMessage := s.dynamicVariables()
	assert.Equal(t, "Interessato alle vetrate, linea caduta", vars["pastCallSummary"])
	assert.Equal(t, "conv-old", vars["originalConversationId"])
	require.Equal(t, "Pronto Mario? Era caduta la linea, mi senti?", firstMessage)
}

func TestResolveRep_FromRecord(t *testing.T) {
	s := outboundSession(&domain.CallRecord{
		AvailableSlots: "Venerdì 21-03-2025: 10:00 (A), 11:30 (B)\n\n(A) = U1\n(B) = U2",
		SlotLayout:     domain.SlotLayoutLettered,
	}, nil)

	assert.Equal(t, "U2", s.resolveRep("21-03-2025 11:30 (B)"))
	assert.Equal(t, "", s.resolveRep("21-03-2025 11:30"))

	// No record at all never resolves to a rep.
	s = outboundSession(nil, nil)
	assert.Equal(t, "", s.resolveRep("21-03-2025 11:30 (B)"))
}
