package report

import (
	"fmt"
	"io"
	"sort"
)

// RenderScan writes a human-readable scan report.
func RenderScan(w io.Writer, r *ScanReport) {
	fmt.Fprintf(w, "Scan report %s (%s, model %s)\n", r.RunID, r.GeneratedAt.Format("2006-01-02 15:04"), r.Model)
	fmt.Fprintf(w, "Sessions scanned: %d, with findings: %d, total findings: %d\n",
		r.SessionsScanned, r.SessionsWithFindings, r.TotalFindings)

	if len(r.CountsByType) > 0 {
		types := make([]string, 0, len(r.CountsByType))
		for t := range r.CountsByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(w, "  %-22s %d\n", t, r.CountsByType[t])
		}
	}
	fmt.Fprintf(w, "Estimated cost: $%.4f\n", r.EstimatedCost)

	for _, sess := range r.Sessions {
		if len(sess.Findings) == 0 {
			continue
		}
		fmt.Fprintf(w, "\nSession %s (%d messages)\n", sess.SessionID, sess.MessageCount)
		if sess.Summary != "" {
			fmt.Fprintf(w, "  %s\n", sess.Summary)
		}
		for _, f := range sess.Findings {
			fmt.Fprintf(w, "  [%s/%s] %s\n", f.Type, f.Confidence, f.Description)
			fmt.Fprintf(w, "    -> %s\n", f.Recommendation)
			if f.SuggestedRule != "" {
				fmt.Fprintf(w, "    rule: %s\n", f.SuggestedRule)
			}
		}
	}
}

// RenderVerify writes a human-readable verification report.
func RenderVerify(w io.Writer, r *VerifyReport) {
	fmt.Fprintf(w, "Verification report %s (%s, model %s)\n", r.RunID, r.GeneratedAt.Format("2006-01-02 15:04"), r.Model)
	fmt.Fprintf(w, "Sessions verified: %d, findings in: %d, confirmed: %d, rejected: %d\n",
		r.SessionsVerified, r.FindingsInput, r.FindingsConfirmed, r.FindingsRejected)
	fmt.Fprintf(w, "Estimated cost: $%.4f\n", r.EstimatedCost)

	for _, sess := range r.Sessions {
		confirmed := false
		for _, v := range sess.Verdicts {
			if v.Verified {
				confirmed = true
				break
			}
		}
		if !confirmed {
			continue
		}
		fmt.Fprintf(w, "\nSession %s\n", sess.SessionID)
		for _, v := range sess.Verdicts {
			if !v.Verified {
				continue
			}
			fmt.Fprintf(w, "  [%s/%s] %s\n", v.Finding.Type, v.Confidence, v.Finding.Description)
			rec := v.RefinedRecommendation
			if rec == "" {
				rec = v.Finding.Recommendation
			}
			fmt.Fprintf(w, "    -> %s\n", rec)
			rule := v.RefinedRule
			if rule == "" {
				rule = v.Finding.SuggestedRule
			}
			if rule != "" {
				fmt.Fprintf(w, "    rule: %s\n", rule)
			}
			for _, q := range v.Evidence {
				fmt.Fprintf(w, "    evidence: %q\n", q)
			}
		}
	}
}
