package agent

import (
	"regexp"
	"strings"
)

const (
	phiDeflectionReply           = "Thanks for sharing. I can help with appointments and general questions, but I can't discuss medical details over chat. Please call the practice or raise this with your provider at your next visit."
	medicalAdviceDeflectionReply = "I can help with appointments and general questions, but I can't provide medical advice over chat. Please call the practice for medical guidance or discuss this with your provider during your visit."
)

var (
	phiPrefaceRE       = regexp.MustCompile(`(?i)\b(?:diagnosed|diagnosis|my condition|my symptoms|i have|i've had|i am|i'm)\b`)
	medicalAdviceCueRE = regexp.MustCompile(`(?i)\b(?:should i|can i|is it safe|safe to|ok to|okay to|contraindications?|side effects?|dosage|dose|mg|milligram|interactions?|mix with|stop taking|double up)\b`)
	medicalContextRE   = regexp.MustCompile(`(?i)\b(?:medication|medicine|meds|prescription|refill|ibuprofen|tylenol|acetaminophen|antibiotics?|painkillers?|insulin|metformin|statins?|steroids?|antidepressants?|vaccines?|immunizations?|blood pressure|blood sugar|pregnan(?:t|cy)|breastfeed(?:ing)?|allerg(?:y|ic)|symptoms?|rash|fever|infection)\b`)
)

// phiKeywords is a minimal deterministic condition list for deflection.
var phiKeywords = []string{
	"diabetes", "hiv", "aids", "cancer", "hepatitis", "pregnant", "pregnancy",
	"depression", "anxiety", "bipolar", "schizophrenia", "asthma", "hypertension",
	"blood pressure", "infection", "herpes", "std", "sti", "copd", "epilepsy",
}

// RedactPHI returns a redacted placeholder when PHI is detected.
func RedactPHI(message string) (string, bool) {
	if detectPHI(message) {
		return "[REDACTED]", true
	}
	return message, false
}

func detectPHI(message string) bool {
	message = strings.ToLower(strings.TrimSpace(message))
	if message == "" {
		return false
	}
	if !phiPrefaceRE.MatchString(message) {
		return false
	}
	for _, kw := range phiKeywords {
		if strings.Contains(message, kw) {
			return true
		}
	}
	return false
}

// detectMedicalAdvice returns the matched keywords when the message asks for
// personalized medical guidance the assistant must not give.
func detectMedicalAdvice(message string) []string {
	message = strings.ToLower(strings.TrimSpace(message))
	if message == "" {
		return nil
	}
	if !medicalAdviceCueRE.MatchString(message) {
		return nil
	}
	if !medicalContextRE.MatchString(message) {
		return nil
	}
	keywords := []string{}
	for _, kw := range []string{
		"medication", "medicine", "meds", "prescription", "refill", "ibuprofen", "tylenol", "acetaminophen",
		"antibiotic", "antibiotics", "painkiller", "painkillers", "insulin", "metformin", "statin", "steroid",
		"antidepressant", "vaccine", "immunization", "blood pressure", "blood sugar", "pregnant", "pregnancy",
		"breastfeeding", "allergy", "allergic", "contraindication", "contraindications", "side effects",
		"dosage", "dose", "interaction", "interactions", "mix with", "symptom", "symptoms",
	} {
		if strings.Contains(message, kw) {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		keywords = append(keywords, "medical_advice_request")
	}
	return keywords
}
