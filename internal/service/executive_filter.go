package service

import (
	"strings"

	"github.com/pesio-ai/be-ar-carf/internal/repository"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// MatchExecutives returns the executives who observe a request of
// requestType in company. Two groups are unioned:
//
//   - company executives: Company equals the request's company, gated by the
//     exception list when one is configured;
//   - all-company executives: Company is ALL and either their home company
//     equals the request's company or the exception list names requestType.
func MatchExecutives(execs []*repository.ExecutiveObserver, requestType, company string) workflow.ApproverSet {
	var byCompany, byAll []string
	for _, e := range execs {
		if e == nil || !e.IsActive || strings.TrimSpace(e.Identity) == "" {
			continue
		}
		switch {
		case strings.EqualFold(e.Company, workflow.AllCompanies):
			if strings.EqualFold(e.HomeCompany, company) || containsFold(e.ExceptionRequestTypes, requestType) {
				byAll = append(byAll, e.Identity)
			}
		case strings.EqualFold(e.Company, company):
			if len(e.ExceptionRequestTypes) == 0 || containsFold(e.ExceptionRequestTypes, requestType) {
				byCompany = append(byCompany, e.Identity)
			}
		}
	}
	return workflow.NewApproverSet(byCompany...).Union(workflow.NewApproverSet(byAll...))
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}
