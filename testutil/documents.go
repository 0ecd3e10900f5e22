package testutil

import (
	"encoding/json"
	"fmt"
)

// Sample document texts for analysis tests. Small on purpose: tests assert
// on routing and extraction structure, not on medical accuracy.

// LabReport contains measurable signals and a diagnosis.
const LabReport = `LABORATORY REPORT
Patient: Jane Doe
Date: 2026-03-14

Blood test results:
  HbA1c: 7.2 % (reference range 4.0-5.6)
  Glucose (fasting): 142 mg/dL (reference range 70-100)
  Creatinine: 0.9 mg/dL

Assessment: Type 2 diabetes mellitus, suboptimal control.
Plan: Metformin 500 mg twice daily.`

// ImagingReport contains imaging metadata and a diagnosis.
const ImagingReport = `RADIOLOGY REPORT
Examination: X-Ray, left knee, two views
Date: 2026-02-02

Findings: Moderate joint space narrowing in the medial compartment.
Small osteophytes at the femoral condyle.

Impression: Osteoarthritis of the left knee.`

// NonMedicalLetter is an ordinary letter that must be rejected by the
// detection guard.
const NonMedicalLetter = `Dear Ms. Doe,

thank you for your interest in our apartment listing at Hauptstrasse 12.
We would like to invite you to a viewing next Tuesday at 17:00.

Kind regards,
Smith Property Management`

// JSONReply wraps a payload in a fenced code block, the way models answer
// when asked for JSON.
func JSONReply(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic("testutil: unmarshalable reply payload: " + err.Error())
	}
	return fmt.Sprintf("```json\n%s\n```", data)
}

// DetectionReply builds a feature-detection model reply.
func DetectionReply(flags map[string]bool, confidence float64, docType, lang string) string {
	return JSONReply(map[string]any{
		"flags":        flags,
		"confidence":   confidence,
		"documentType": docType,
		"language":     lang,
	})
}

// SignalsReply builds a signal-extraction model reply.
func SignalsReply(confidence float64, signals ...map[string]any) string {
	return JSONReply(map[string]any{"signals": signals, "confidence": confidence})
}

// DiagnosesReply builds a diagnoses-extraction model reply.
func DiagnosesReply(confidence float64, diagnoses ...map[string]any) string {
	return JSONReply(map[string]any{"diagnoses": diagnoses, "confidence": confidence})
}

// ReportReply builds a report-composition model reply.
func ReportReply(title, summary string, confidence float64) string {
	return JSONReply(map[string]any{"title": title, "summary": summary, "confidence": confidence})
}

// TermsReply builds a term-generation model reply.
func TermsReply(terms ...string) string {
	return JSONReply(map[string]any{"terms": terms})
}
