package registry

import (
	"context"
	"sort"
	"sync"
)

// ProvisionOutcome records the result of provisioning one agent.
type ProvisionOutcome struct {
	IBAN          string `json:"iban"`
	SyntheticIBAN string `json:"synthetic_iban,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ProvisionReport partitions a provisioning run. Every requested IBAN
// lands in exactly one of the three sets.
type ProvisionReport struct {
	Success []ProvisionOutcome `json:"success"`
	Failed  []ProvisionOutcome `json:"failed"`
	Skipped []ProvisionOutcome `json:"skipped"`
}

// ProvisionAll resolves or provisions every IBAN in the list.
//
// Distinct agents have no ordering dependency, so provisioning fans out
// across up to concurrency workers; the per-IBAN locks inside
// ResolveOrProvision still guarantee at most one in-flight provisioning
// per identifier. A failure for one identity never aborts the others.
//
// IBANs already resolvable before the run are reported as skipped.
func (r *Registry) ProvisionAll(ctx context.Context, ibans []string, concurrency int) ProvisionReport {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu     sync.Mutex
		report ProvisionReport
	)
	record := func(set *[]ProvisionOutcome, o ProvisionOutcome) {
		mu.Lock()
		*set = append(*set, o)
		mu.Unlock()
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, iban := range ibans {
		if ctx.Err() != nil {
			record(&report.Skipped, ProvisionOutcome{IBAN: iban, Reason: "run cancelled"})
			continue
		}

		if rec, ok := r.Resolve(iban); ok && rec.Resolvable() {
			record(&report.Skipped, ProvisionOutcome{
				IBAN:          iban,
				SyntheticIBAN: rec.SyntheticIBAN,
				Reason:        "already provisioned",
			})
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(iban string) {
			defer wg.Done()
			defer func() { <-sem }()

			rec, err := r.ResolveOrProvision(ctx, iban)
			if err != nil {
				r.log.Error("provisioning failed", "iban", iban, "error", err)
				record(&report.Failed, ProvisionOutcome{IBAN: iban, Reason: err.Error()})
				return
			}
			record(&report.Success, ProvisionOutcome{IBAN: iban, SyntheticIBAN: rec.SyntheticIBAN})
		}(iban)
	}
	wg.Wait()

	sortOutcomes(report.Success)
	sortOutcomes(report.Failed)
	sortOutcomes(report.Skipped)
	return report
}

// sortOutcomes orders outcomes by IBAN so reports are deterministic
// regardless of worker scheduling.
func sortOutcomes(outcomes []ProvisionOutcome) {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].IBAN < outcomes[j].IBAN })
}
