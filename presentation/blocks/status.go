package blocks

import "github.com/pyama86/firefighter/domain/entity"

var statusLabels = map[entity.Status]string{
	entity.StatusOpen:          "🆕 オープン",
	entity.StatusInvestigating: "🔍 調査中",
	entity.StatusMitigating:    "🛠️ 緩和中",
	entity.StatusMitigated:     "🩹 緩和済み",
	entity.StatusPostMortem:    "📝 ポストモーテム",
	entity.StatusClosed:        "✅ クローズ",
}

func StatusLabel(s entity.Status) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return s.String()
}
