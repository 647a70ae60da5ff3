package paymob

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleTransaction() *TransactionObject {
	return &TransactionObject{
		ID:                   192837,
		Pending:              false,
		AmountCents:          4900,
		Success:              true,
		IsAuth:               false,
		IsCapture:            false,
		IsStandalonePayment:  true,
		IsVoided:             false,
		IsRefunded:           false,
		Is3DSecure:           true,
		IntegrationID:        4321,
		HasParentTransaction: false,
		Order:                Order{ID: 555, MerchantOrderID: "INV-20240115-00001"},
		CreatedAt:            "2024-01-15T10:00:00.000000",
		Currency:             "EGP",
		ErrorOccured:         false,
		Owner:                77,
		SourceData:           SourceData{Pan: "2346", Type: "card", SubType: "MasterCard"},
	}
}

func TestCalculateHMACUsesGatewayFieldOrder(t *testing.T) {
	concatenated := "4900" + "2024-01-15T10:00:00.000000" + "EGP" + "false" + "false" +
		"192837" + "4321" + "true" + "false" + "false" + "false" + "true" + "false" +
		"555" + "77" + "false" + "2346" + "MasterCard" + "card" + "true"

	mac := hmac.New(sha512.New, []byte("secret"))
	mac.Write([]byte(concatenated))
	expected := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, expected, CalculateHMAC("secret", sampleTransaction()))
}

func TestVerifyHMAC(t *testing.T) {
	obj := sampleTransaction()
	sig := CalculateHMAC("secret", obj)

	assert.True(t, VerifyHMAC("secret", obj, sig))
	assert.True(t, VerifyHMAC("secret", obj, strings.ToUpper(sig)))
	assert.False(t, VerifyHMAC("other", obj, sig))
	assert.False(t, VerifyHMAC("secret", obj, ""))
	assert.False(t, VerifyHMAC("", obj, sig))

	tampered := sampleTransaction()
	tampered.AmountCents = 1
	assert.False(t, VerifyHMAC("secret", tampered, sig))
}
