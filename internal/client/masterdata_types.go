package client

import (
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"
)

// MasterDataRecord is the downstream customer record built from an approved
// request.
type MasterDataRecord struct {
	RowRef      int64
	RequestType string
	Company     string
	Maker       string
	ApprovedAt  time.Time

	CustomerName    string
	TradeName       string
	TIN             string
	BillingAddress  string
	ShippingAddress string
	City            string
	PostalCode      string
	Country         string
	ContactPerson   string
	ContactNumber   string
	Email           string

	CreditLimit  decimal.Decimal
	CreditTerm   string
	PaymentTerms string

	AccountGroup          string
	CustomerClass         string
	ReconciliationAccount string
	PricingProcedure      string
	TaxClassification     string

	SalesOrg            string
	DistributionChannel string
	Division            string
	SalesOffice         string
	SalesGroup          string

	Approvers []string // tier 1..3 approver identities, in tier order
}

// ToStruct renders the record in the downstream wire shape. Monetary
// amounts travel as strings to keep their exact decimal value.
func (r *MasterDataRecord) ToStruct() (*structpb.Struct, error) {
	approvers := make([]interface{}, 0, len(r.Approvers))
	for _, a := range r.Approvers {
		approvers = append(approvers, a)
	}

	return structpb.NewStruct(map[string]interface{}{
		"source_ref":   float64(r.RowRef),
		"request_type": r.RequestType,
		"company_code": r.Company,
		"created_by":   r.Maker,
		"approved_at":  r.ApprovedAt.UTC().Format(time.RFC3339),
		"partner": map[string]interface{}{
			"name":       r.CustomerName,
			"trade_name": r.TradeName,
			"tax_id":     r.TIN,
		},
		"addresses": map[string]interface{}{
			"billing":     r.BillingAddress,
			"shipping":    r.ShippingAddress,
			"city":        r.City,
			"postal_code": r.PostalCode,
			"country":     r.Country,
		},
		"contact": map[string]interface{}{
			"person": r.ContactPerson,
			"phone":  r.ContactNumber,
			"email":  r.Email,
		},
		"credit": map[string]interface{}{
			"limit":         r.CreditLimit.StringFixed(2),
			"term":          r.CreditTerm,
			"payment_terms": r.PaymentTerms,
		},
		"classification": map[string]interface{}{
			"account_group":          r.AccountGroup,
			"customer_class":         r.CustomerClass,
			"reconciliation_account": r.ReconciliationAccount,
			"pricing_procedure":      r.PricingProcedure,
			"tax_classification":     r.TaxClassification,
		},
		"organization": map[string]interface{}{
			"sales_org":            r.SalesOrg,
			"distribution_channel": r.DistributionChannel,
			"division":             r.Division,
			"sales_office":         r.SalesOffice,
			"sales_group":          r.SalesGroup,
		},
		"approvers": approvers,
	})
}
