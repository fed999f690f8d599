package models

import "encoding/json"

// AnalysisOutput is the result of ANALYZE_VIDEO and ANALYZE_FILE.
type AnalysisOutput struct {
	Content string `json:"content"`
}

// ScenarioOutput is the result of GENERATE_SCENARIO.
type ScenarioOutput struct {
	Scenario string `json:"scenario"`
}

// ResultText extracts the generated markdown from a completed job's result,
// whichever shape it has. It returns "" when there is no result.
func (j *Job) ResultText() string {
	if len(j.Result) == 0 {
		return ""
	}
	var out struct {
		Content  string `json:"content"`
		Scenario string `json:"scenario"`
	}
	if err := json.Unmarshal(j.Result, &out); err != nil {
		return ""
	}
	if out.Scenario != "" {
		return out.Scenario
	}
	return out.Content
}
