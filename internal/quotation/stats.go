package quotation

import "stonebeam/models"

// Сводка заявителя
type ProjectSummary struct {
	Total          int `json:"total"`
	Open           int `json:"open"`
	Quoted         int `json:"quoted"`
	Fulfilled      int `json:"fulfilled"`
	QuotesReceived int `json:"quotesReceived"`
}

// Сводка поставщика. AcceptanceRate считается только по решённым
// предложениям, 0 если решённых нет
type QuotationSummary struct {
	Total          int     `json:"total"`
	Pending        int     `json:"pending"`
	Accepted       int     `json:"accepted"`
	Rejected       int     `json:"rejected"`
	AcceptedValue  float64 `json:"acceptedValue"`
	AcceptanceRate float64 `json:"acceptanceRate"`
}

func SummarizeProjects(projects []models.Project) ProjectSummary {
	var s ProjectSummary
	for _, p := range projects {
		s.Total++
		s.QuotesReceived += p.QuotesReceived
		switch p.Status {
		case models.ProjectOpen:
			s.Open++
		case models.ProjectQuoted:
			s.Quoted++
		case models.ProjectFulfilled:
			s.Fulfilled++
		}
	}
	return s
}

func SummarizeQuotations(quotations []models.Quotation) QuotationSummary {
	var s QuotationSummary
	for _, q := range quotations {
		s.Total++
		switch q.Status {
		case models.QuotationPending:
			s.Pending++
		case models.QuotationAccepted:
			s.Accepted++
			s.AcceptedValue += q.Total
		case models.QuotationRejected:
			s.Rejected++
		}
	}
	if decided := s.Accepted + s.Rejected; decided > 0 {
		s.AcceptanceRate = float64(s.Accepted) / float64(decided)
	}
	return s
}
