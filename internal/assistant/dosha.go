package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/models"
)

// MinDoshaAnswers is the smallest questionnaire that is scored.
const MinDoshaAnswers = 10

// dualThreshold is the percentage gap under which the top two doshas are
// reported together.
const dualThreshold = 10

// Question is one questionnaire item; each option maps to a dosha.
type Question struct {
	ID      string                  `json:"id"`
	Text    string                  `json:"text"`
	Options map[models.Dosha]string `json:"options"`
}

// Questions is the dosha questionnaire served to patients.
var Questions = []Question{
	{"body_frame", "How would you describe your body frame?", options("Thin, light, hard to gain weight", "Medium, muscular", "Broad, sturdy, gains weight easily")},
	{"skin", "What is your skin usually like?", options("Dry, rough, cool", "Warm, oily, prone to redness", "Thick, smooth, moist")},
	{"hair", "How is your hair?", options("Dry, frizzy, thin", "Fine, straight, early greying", "Thick, wavy, lustrous")},
	{"appetite", "How is your appetite?", options("Irregular, sometimes forget to eat", "Strong, irritable when hungry", "Steady, can skip meals easily")},
	{"digestion", "How is your digestion?", options("Gas and bloating", "Quick, acidity or heartburn", "Slow, heavy after meals")},
	{"sleep", "How do you sleep?", options("Light, interrupted", "Moderate, wake up alert", "Deep and long, hard to wake")},
	{"energy", "How is your energy through the day?", options("Comes in bursts", "Intense and focused", "Steady and enduring")},
	{"temperature", "Which weather bothers you most?", options("Cold and wind", "Heat and sun", "Damp and cold")},
	{"stress", "How do you react to stress?", options("Worry and anxiety", "Anger and irritability", "Withdrawal, calm on the surface")},
	{"speech", "How do you speak?", options("Fast, talkative", "Sharp, precise", "Slow, calm")},
	{"memory", "How is your memory?", options("Quick to learn, quick to forget", "Sharp and clear", "Slow to learn, never forgets")},
	{"activity", "What is your activity style?", options("Restless, always moving", "Competitive, goal driven", "Relaxed, prefers routine")},
}

func options(vata, pitta, kapha string) map[models.Dosha]string {
	return map[models.Dosha]string{models.DoshaVata: vata, models.DoshaPitta: pitta, models.DoshaKapha: kapha}
}

// Answer is the dosha chosen for one question.
type Answer struct {
	QuestionID string       `json:"questionId" binding:"required"`
	Dosha      models.Dosha `json:"dosha" binding:"required,oneof=vata pitta kapha"`
}

// Scores holds the percentage of answers per dosha. Dominant is either a
// single dosha or two joined with "-" when they are within dualThreshold.
type Scores struct {
	Vata     int    `json:"vata"`
	Pitta    int    `json:"pitta"`
	Kapha    int    `json:"kapha"`
	Dominant string `json:"dominant"`
}

// Score computes the constitution from the answers. Percentages use largest
// remainder rounding so they always sum to 100.
func Score(answers []Answer) (Scores, error) {
	if len(answers) < MinDoshaAnswers {
		return Scores{}, apperr.Validationf("at least %d answers are required", MinDoshaAnswers)
	}
	counts := map[models.Dosha]int{}
	seen := map[string]bool{}
	for _, a := range answers {
		switch a.Dosha {
		case models.DoshaVata, models.DoshaPitta, models.DoshaKapha:
		default:
			return Scores{}, apperr.Validationf("invalid dosha %q for question %s", a.Dosha, a.QuestionID)
		}
		if seen[a.QuestionID] {
			return Scores{}, apperr.Validationf("question %s answered more than once", a.QuestionID)
		}
		seen[a.QuestionID] = true
		counts[a.Dosha]++
	}

	type share struct {
		dosha     models.Dosha
		pct       int
		remainder int
	}
	order := []models.Dosha{models.DoshaVata, models.DoshaPitta, models.DoshaKapha}
	total := len(answers)
	shares := make([]share, 0, 3)
	assigned := 0
	for _, d := range order {
		scaled := counts[d] * 100
		shares = append(shares, share{dosha: d, pct: scaled / total, remainder: scaled % total})
		assigned += scaled / total
	}
	byRemainder := make([]int, len(shares))
	for i := range byRemainder {
		byRemainder[i] = i
	}
	sort.SliceStable(byRemainder, func(i, j int) bool {
		return shares[byRemainder[i]].remainder > shares[byRemainder[j]].remainder
	})
	for i := 0; assigned < 100; i++ {
		shares[byRemainder[i%len(shares)]].pct++
		assigned++
	}

	s := Scores{Vata: shares[0].pct, Pitta: shares[1].pct, Kapha: shares[2].pct}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].pct > shares[j].pct })
	if shares[0].pct-shares[1].pct <= dualThreshold {
		s.Dominant = string(shares[0].dosha) + "-" + string(shares[1].dosha)
	} else {
		s.Dominant = string(shares[0].dosha)
	}
	return s, nil
}

const doshaSystemPrompt = "You are an Ayurvedic wellness assistant. Give practical, safe lifestyle and diet " +
	"recommendations. Do not diagnose disease or prescribe medication. Answer in under 200 words."

// AssessDosha scores the answers, asks the chain for recommendations and
// stores the assessment. Recommendations are best effort: when every provider
// fails the assessment is stored without them.
func (s *Service) AssessDosha(ctx context.Context, patientID string, answers []Answer) (*models.DoshaAssessment, error) {
	scores, err := Score(answers)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(answers)
	if err != nil {
		return nil, apperr.Internal("encode answers", err)
	}
	assessment := models.DoshaAssessment{
		PatientID:     patientID,
		Answers:       datatypes.JSON(raw),
		VataScore:     scores.Vata,
		PittaScore:    scores.Pitta,
		KaphaScore:    scores.Kapha,
		DominantDosha: scores.Dominant,
	}

	if s.chain.Len() > 0 {
		prompt := fmt.Sprintf("Constitution: vata %d%%, pitta %d%%, kapha %d%% (dominant: %s). "+
			"Suggest diet, daily routine and exercise guidance.", scores.Vata, scores.Pitta, scores.Kapha,
			strings.ReplaceAll(scores.Dominant, "-", " and "))
		res, err := s.chain.Complete(ctx, Request{
			Messages:    []Message{{Role: "system", Content: doshaSystemPrompt}, {Role: "user", Content: prompt}},
			Temperature: 0.4,
		})
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"patient_id": patientID,
				"error":      err,
			}).Warn("dosha recommendations unavailable")
		} else {
			assessment.Recommendations = strings.TrimSpace(res.Text)
			assessment.Provider = res.Provider
		}
	}

	if err := s.db.WithContext(ctx).Create(&assessment).Error; err != nil {
		return nil, apperr.Internal("store dosha assessment", err)
	}
	return &assessment, nil
}

// DoshaHistory lists a patient's assessments, newest first.
func (s *Service) DoshaHistory(ctx context.Context, patientID string) ([]models.DoshaAssessment, error) {
	var out []models.DoshaAssessment
	err := s.db.WithContext(ctx).Where("patient_id = ?", patientID).Order("created_at desc").Find(&out).Error
	if err != nil {
		return nil, apperr.Internal("load dosha assessments", err)
	}
	return out, nil
}
