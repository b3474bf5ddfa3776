package evaluation

import "sort"

// LabelStats are the per-label figures of a classification report.
type LabelStats struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Report mirrors the dictionary layout of a scikit-learn classification report.
type Report struct {
	Labels   map[string]LabelStats
	Accuracy float64
	Macro    LabelStats
	Weighted LabelStats
}

// ClassificationReport compares predictions with the truth. Labels are the
// union of both sides; undefined ratios are 0.
func ClassificationReport(truth, pred []string) Report {
	labelSet := map[string]bool{}
	for _, l := range truth {
		labelSet[l] = true
	}
	for _, l := range pred {
		labelSet[l] = true
	}
	labels := make([]string, 0, len(labelSet))
	for l := range labelSet {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	tp := map[string]int{}
	predicted := map[string]int{}
	support := map[string]int{}
	correct := 0
	for i := range truth {
		support[truth[i]]++
		if i >= len(pred) {
			continue
		}
		predicted[pred[i]]++
		if truth[i] == pred[i] {
			tp[truth[i]]++
			correct++
		}
	}

	r := Report{Labels: make(map[string]LabelStats, len(labels))}
	total := len(truth)
	var macro, weighted LabelStats
	for _, l := range labels {
		s := LabelStats{
			Precision: ratio(tp[l], predicted[l]),
			Recall:    ratio(tp[l], support[l]),
			Support:   support[l],
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		r.Labels[l] = s
		macro.Precision += s.Precision
		macro.Recall += s.Recall
		macro.F1 += s.F1
		w := float64(s.Support)
		weighted.Precision += s.Precision * w
		weighted.Recall += s.Recall * w
		weighted.F1 += s.F1 * w
	}
	if n := float64(len(labels)); n > 0 {
		macro.Precision /= n
		macro.Recall /= n
		macro.F1 /= n
	}
	if total > 0 {
		weighted.Precision /= float64(total)
		weighted.Recall /= float64(total)
		weighted.F1 /= float64(total)
	}
	macro.Support, weighted.Support = total, total
	r.Macro, r.Weighted = macro, weighted
	r.Accuracy = ratio(correct, total)
	return r
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func (s LabelStats) asMap() map[string]any {
	return map[string]any{
		"precision": s.Precision,
		"recall":    s.Recall,
		"f1-score":  s.F1,
		"support":   s.Support,
	}
}

// AsMap renders the report with the scikit-learn keys.
func (r Report) AsMap() map[string]any {
	out := make(map[string]any, len(r.Labels)+3)
	for l, s := range r.Labels {
		out[l] = s.asMap()
	}
	out["accuracy"] = r.Accuracy
	out["macro avg"] = r.Macro.asMap()
	out["weighted avg"] = r.Weighted.asMap()
	return out
}
