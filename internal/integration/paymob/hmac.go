package paymob

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strconv"
	"strings"
)

// signedFields returns the callback values in the order the gateway concatenates them
func signedFields(o *TransactionObject) []string {
	return []string{
		strconv.FormatInt(o.AmountCents, 10),
		o.CreatedAt,
		o.Currency,
		strconv.FormatBool(o.ErrorOccured),
		strconv.FormatBool(o.HasParentTransaction),
		strconv.FormatInt(o.ID, 10),
		strconv.FormatInt(o.IntegrationID, 10),
		strconv.FormatBool(o.Is3DSecure),
		strconv.FormatBool(o.IsAuth),
		strconv.FormatBool(o.IsCapture),
		strconv.FormatBool(o.IsRefunded),
		strconv.FormatBool(o.IsStandalonePayment),
		strconv.FormatBool(o.IsVoided),
		strconv.FormatInt(o.Order.ID, 10),
		strconv.FormatInt(o.Owner, 10),
		strconv.FormatBool(o.Pending),
		o.SourceData.Pan,
		o.SourceData.SubType,
		o.SourceData.Type,
		strconv.FormatBool(o.Success),
	}
}

// CalculateHMAC returns hex(HMAC-SHA512(secret, concatenated signed fields))
func CalculateHMAC(secret string, o *TransactionObject) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(strings.Join(signedFields(o), "")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC compares the provided signature in constant time
func VerifyHMAC(secret string, o *TransactionObject, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	expected := CalculateHMAC(secret, o)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}
