package analytics

// partialFailureCodes downgrade confidence to insufficient when present.
var partialFailureCodes = map[string]bool{
	CodeMissingMetric:       true,
	CodeMissingTimeColumn:   true,
	CodeMissingDimension:    true,
	CodeSQLExecutionError:   true,
	CodeQueryBudgetExceeded: true,
	CodeEmptyResults:        true,
}

// ValidateResults grades confidence from planned vs executed counts and the
// accumulated diagnostics. Rules are evaluated in order; the first match
// wins. The returned diagnostics list is priorDiagnostics plus
// executionErrors plus any code appended by the grading itself.
func ValidateResults(plannedCount, executedCount, nonEmptyCount int, executionErrors, priorDiagnostics []Diagnostic) (Confidence, []Diagnostic) {
	diagnostics := make([]Diagnostic, 0, len(priorDiagnostics)+len(executionErrors)+1)
	diagnostics = append(diagnostics, priorDiagnostics...)
	diagnostics = append(diagnostics, executionErrors...)

	if plannedCount == 0 {
		diagnostics = append(diagnostics, Diagnostic{Code: CodeNoAnalysisPlan, Message: "No runnable analyses were produced"})
		return Confidence{
			Level:   ConfidenceInsufficient,
			Reasons: []string{"No analysis plan could be generated from current dataset/question."},
		}, diagnostics
	}

	if executedCount == 0 {
		diagnostics = append(diagnostics, Diagnostic{Code: CodeNoQueryResults, Message: "All planned analyses failed to execute"})
		return Confidence{
			Level:   ConfidenceInsufficient,
			Reasons: []string{"No query executed successfully. Fix dataset schema or question specificity."},
		}, diagnostics
	}

	if nonEmptyCount == 0 {
		diagnostics = append(diagnostics, Diagnostic{Code: CodeEmptyResults, Message: "Queries ran but returned empty result sets"})
		return Confidence{
			Level:   ConfidenceLow,
			Reasons: []string{"Queries returned no rows; conclusions are weak."},
		}, diagnostics
	}

	for _, diagnostic := range diagnostics {
		if partialFailureCodes[diagnostic.Code] {
			return Confidence{
				Level:   ConfidenceInsufficient,
				Reasons: []string{"Partial validation failure detected; use results as directional evidence only."},
			}, diagnostics
		}
	}

	if len(executionErrors) > 0 {
		return Confidence{
			Level:   ConfidenceInsufficient,
			Reasons: []string{"Some planned analyses failed validation/execution; treat findings as partial."},
		}, diagnostics
	}

	successRate := float64(executedCount) / float64(plannedCount)
	if successRate >= 0.8 {
		return Confidence{
			Level:   ConfidenceHigh,
			Reasons: []string{"Most planned analyses executed successfully with non-empty results."},
		}, diagnostics
	}
	if successRate >= 0.5 {
		return Confidence{
			Level:   ConfidenceMedium,
			Reasons: []string{"Some analyses executed; some failed or were incomplete."},
		}, diagnostics
	}
	return Confidence{
		Level:   ConfidenceInsufficient,
		Reasons: []string{"Too many analysis steps failed; provide clarifications or cleaner data."},
	}, diagnostics
}
