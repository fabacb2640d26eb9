package mvola

import "net/http"

// transactionHeaders is shared by every merchant-pay call. Keys are assigned
// directly so they go out with MVola's casing instead of Go's canonical form.
func (c *Client) transactionHeaders(token, correlationID string) http.Header {
	h := make(http.Header, 9)
	set := func(k, v string) { h[k] = []string{v} }

	set("Authorization", "Bearer "+token)
	set("Version", "1.0")
	set("X-CorrelationID", correlationID)
	set("UserLanguage", c.cfg.UserLanguage)
	set("UserAccountIdentifier", "msisdn;"+c.cfg.MerchantNumber)
	set("partnerName", c.cfg.PartnerName)
	set("Content-Type", "application/json")
	set("X-Callback-URL", c.cfg.CallbackURL)
	set("Cache-Control", "no-cache")

	return h
}
