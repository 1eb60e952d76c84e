package feature

import "engagement_worker/core/domain"

// churnRisk scores recency, frequency and sentiment at up to 2 points each.
func churnRisk(recency, frequency7d int, sentiment float64) domain.ChurnRisk {
	score := 0
	switch {
	case recency > 7:
		score += 2
	case recency > 3:
		score++
	}
	switch {
	case frequency7d < 2:
		score += 2
	case frequency7d < 5:
		score++
	}
	switch {
	case sentiment < -0.3:
		score += 2
	case sentiment < 0:
		score++
	}

	switch {
	case score >= 4:
		return domain.ChurnHigh
	case score >= 2:
		return domain.ChurnMedium
	default:
		return domain.ChurnLow
	}
}

// triggerFlags derives the boolean trigger features.
func triggerFlags(triggers []domain.Trigger) (examPrep, postCheckin, support bool) {
	for _, t := range triggers {
		kind := t.Kind()
		switch {
		case t.MessageType == "last_minute_prep" || kind == "exam_prep" || kind == "pre_exam":
			examPrep = true
		case t.MessageType == "how_did_it_go" || t.MessageType == "post_exam" || kind == "exam_followup" || kind == "post_exam":
			postCheckin = true
		case t.MessageType == "learning_support_offer" || kind == "learning_support":
			support = true
		}
	}
	return examPrep, postCheckin, support
}
