package svc

import (
	"context"
	"sort"

	"bitbin/pkg/domain"

	"github.com/pkg/errors"
)

// AuditReport compares what the backend holds with what the index knows.
type AuditReport struct {
	Backend          string            `json:"backend"`
	Records          []*domain.Content `json:"records"`
	MissingFromIndex []string          `json:"missing_from_index"`
	MissingFromStore []string          `json:"missing_from_store"`
}

func (r *AuditReport) Consistent() bool {
	return len(r.MissingFromIndex) == 0 && len(r.MissingFromStore) == 0
}

func (s *Content) Audit(ctx context.Context) (*AuditReport, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.opWg.Done()
	records, err := s.backend.ListAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list backend")
	}
	keys, err := s.db.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list index")
	}
	indexed := make(map[string]bool, len(keys))
	for _, k := range keys {
		indexed[k] = true
	}
	report := &AuditReport{
		Backend:          s.backend.ID(),
		Records:          records,
		MissingFromIndex: []string{},
		MissingFromStore: []string{},
	}
	stored := make(map[string]bool, len(records))
	for _, c := range records {
		stored[c.Key] = true
		if !indexed[c.Key] {
			report.MissingFromIndex = append(report.MissingFromIndex, c.Key)
		}
	}
	for _, k := range keys {
		if !stored[k] {
			report.MissingFromStore = append(report.MissingFromStore, k)
		}
	}
	sort.Strings(report.MissingFromStore)
	return report, nil
}
