package model

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmehdipour/mvola-gateway/internal/util"
	"github.com/shopspring/decimal"
)

// RequestDateLayout is the ISO-8601 form MVola expects in requestDate (UTC, millisecond precision).
const RequestDateLayout = "2006-01-02T15:04:05.000Z"

// TransactionRequest is the inbound merchant-pay payload.
type TransactionRequest struct {
	Amount                                     string `json:"amount"`
	Currency                                   string `json:"currency"`
	DescriptionText                            string `json:"descriptionText"`
	RequestingOrganisationTransactionReference string `json:"requestingOrganisationTransactionReference"`
	DebitPartyValue                            string `json:"debitPartyValue"`
	CreditPartyValue                           string `json:"creditPartyValue"`
}

// KeyValue is the {key, value} pair shape MVola uses for parties and metadata.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Envelope is the body POSTed to the merchantpay endpoint.
type Envelope struct {
	TransactionRequest
	RequestDate string     `json:"requestDate"`
	Metadata    []KeyValue `json:"metadata"`
	DebitParty  []KeyValue `json:"debitParty"`
	CreditParty []KeyValue `json:"creditParty"`
}

// Metadata is the fixed triplet injected into every envelope.
type Metadata struct {
	PartnerName string
	FC          string
	AmountFC    string
}

// NewEnvelope wraps req with the server-side fields.
func NewEnvelope(req TransactionRequest, meta Metadata, now time.Time) Envelope {
	return Envelope{
		TransactionRequest: req,
		RequestDate:        now.UTC().Format(RequestDateLayout),
		Metadata: []KeyValue{
			{Key: "partnerName", Value: meta.PartnerName},
			{Key: "fc", Value: meta.FC},
			{Key: "amountFc", Value: meta.AmountFC},
		},
		DebitParty:  []KeyValue{{Key: "msisdn", Value: req.DebitPartyValue}},
		CreditParty: []KeyValue{{Key: "msisdn", Value: req.CreditPartyValue}},
	}
}

// ValidationErrors maps a JSON field name to its failure message.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks field constraints. It returns nil or a non-empty ValidationErrors.
func (r TransactionRequest) Validate() error {
	errs := ValidationErrors{}

	if strings.TrimSpace(r.Amount) == "" {
		errs["amount"] = "amount is required"
	} else if d, err := decimal.NewFromString(r.Amount); err != nil || !d.IsPositive() {
		errs["amount"] = "amount must be a positive decimal number"
	}

	if strings.TrimSpace(r.Currency) == "" {
		errs["currency"] = "currency is required"
	} else if n := utf8.RuneCountInString(r.Currency); n < 2 || n > 3 {
		errs["currency"] = "currency must be between 2 and 3 characters"
	}

	if strings.TrimSpace(r.DescriptionText) == "" {
		errs["descriptionText"] = "descriptionText is required"
	}
	if strings.TrimSpace(r.RequestingOrganisationTransactionReference) == "" {
		errs["requestingOrganisationTransactionReference"] = "requestingOrganisationTransactionReference is required"
	}

	checkMSISDN(errs, "debitPartyValue", r.DebitPartyValue)
	checkMSISDN(errs, "creditPartyValue", r.CreditPartyValue)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func checkMSISDN(errs ValidationErrors, field, v string) {
	switch {
	case strings.TrimSpace(v) == "":
		errs[field] = field + " is required"
	case !util.IsMSISDN(v):
		errs[field] = field + " must contain only digits"
	}
}
