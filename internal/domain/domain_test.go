package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidService(t *testing.T) {
	assert.True(t, ValidService("Infissi"))
	assert.True(t, ValidService("Vetrate"))
	assert.True(t, ValidService("Pergole"))
	assert.False(t, ValidService("infissi"))
	assert.False(t, ValidService(""))
	assert.False(t, ValidService("Tende"))
}

func TestBusinessName(t *testing.T) {
	assert.Equal(t, "Ristrutturiamolo", ServiceInfissi.BusinessName())
	assert.Equal(t, "UNICOVETRATE", ServiceVetrate.BusinessName())
	assert.Equal(t, "UNICOVETRATE", ServicePergole.BusinessName())
}

func TestSalesRepCovers(t *testing.T) {
	rep := SalesRep{
		GHLUserID: "U1",
		Services:  "Infissi, Vetrate",
		Provinces: "RM , LT",
		Active:    true,
	}

	assert.True(t, rep.Covers(ServiceInfissi, "RM"))
	assert.True(t, rep.Covers(ServiceVetrate, "LT"))
	assert.False(t, rep.Covers(ServicePergole, "RM"))
	assert.False(t, rep.Covers(ServiceInfissi, "MI"))

	rep.Active = false
	assert.False(t, rep.Covers(ServiceInfissi, "RM"))
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()

	fresh := GHLToken{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, fresh.Expired(now))

	nearExpiry := GHLToken{ExpiresAt: now.Add(3 * time.Minute)}
	assert.True(t, nearExpiry.Expired(now), "tokens inside the five-minute margin must refresh")

	expired := GHLToken{ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, expired.Expired(now))
}
